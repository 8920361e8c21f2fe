package formatter

import (
	"fmt"
	"io"
	"time"

	yaml "go.yaml.in/yaml/v3"

	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

// Output formats for a run report.
const (
	OutputText = "text"
	OutputYAML = "yaml"
)

// Report is the outcome of one checker action.
type Report struct {
	RunID     string         `yaml:"run_id,omitempty"`
	Action    string         `yaml:"action"`
	Host      string         `yaml:"host"`
	Status    verdict.Status `yaml:"-"`
	Public    string         `yaml:"public"`
	Private   string         `yaml:"private,omitempty"`
	StartedAt time.Time      `yaml:"started_at"`
	Duration  time.Duration  `yaml:"-"`
}

type yamlReport struct {
	Report     `yaml:",inline"`
	Status     string `yaml:"status"`
	Code       int    `yaml:"code"`
	DurationMs int64  `yaml:"duration_ms"`
}

// WriteReport renders r. Text output follows the checker convention: the
// public line on stdout and the private line on stderr. YAML output puts the
// whole report on stdout.
func WriteReport(stdout, stderr io.Writer, r Report, format string) error {
	switch format {
	case "", OutputText:
		if _, err := fmt.Fprintln(stdout, r.Public); err != nil {
			return err
		}
		_, err := fmt.Fprintln(stderr, r.Private)
		return err
	case OutputYAML:
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(yamlReport{
			Report:     r,
			Status:     r.Status.String(),
			Code:       int(r.Status),
			DurationMs: r.Duration.Milliseconds(),
		}); err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q (want text or yaml)", format)
	}
}
