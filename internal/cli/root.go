// Package cli implements the notifyprobe command line: the check, put and
// get actions an orchestrator invokes, plus history and schedule for
// operators.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/alexanderramin/notifyprobe/internal/cli/formatter"
	"github.com/alexanderramin/notifyprobe/internal/config"
	"github.com/alexanderramin/notifyprobe/internal/logx"
)

// ExitError is returned for usage and internal errors, outside the verdict
// range.
const ExitError = 110

type rootFlags struct {
	configFile string
	output     string
}

// NewRootCmd creates the top-level "notifyprobe" command and registers all
// subcommands against the provided App.
func NewRootCmd(app *App) *cobra.Command {
	app.defaults()
	v := viper.New()
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "notifyprobe",
		Short: "Conformance checker for the notify scheduling service",
		Long: `notifyprobe drives a notify service from the outside and judges it.

  check HOST                  run one full lifecycle check
  put HOST FLAG_ID FLAG       plant a flag, print the token pair
  get HOST FLAG_ID FLAG       verify a planted flag
  history                     list recorded runs
  schedule HOST               run check on a cron schedule

The exit status is the verdict: 101 OK, 102 CORRUPT, 103 MUMBLE, 104 DOWN.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.setup(cmd, v, flags)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "YAML config file")
	pf.StringVarP(&flags.output, "output", "o", formatter.OutputText, "report format (text|yaml)")
	pf.String("log-level", "info", "log level (trace|debug|info|warn|error|off)")
	pf.String("log-format", logx.FormatAuto, "log format (auto|console|json)")
	pf.String("journal", "", "journal database path (default ~/.notifyprobe/journal.db)")
	pf.Duration("timeout", 0, "overall budget per action (default 30s)")

	for key, name := range map[string]string{
		"log.level":     "log-level",
		"log.format":    "log-format",
		"journal.path":  "journal",
		"check.timeout": "timeout",
	} {
		// BindPFlag only fails for a nil flag.
		_ = v.BindPFlag(key, pf.Lookup(name))
	}

	root.AddCommand(
		newCheckCmd(app, flags),
		newPutCmd(app, flags),
		newGetCmd(app, flags),
		newHistoryCmd(app),
		newScheduleCmd(app, flags),
	)
	return root
}

func (a *App) setup(cmd *cobra.Command, v *viper.Viper, flags *rootFlags) error {
	switch flags.output {
	case formatter.OutputText, formatter.OutputYAML:
	default:
		return fmt.Errorf("unknown output format %q (want text or yaml)", flags.output)
	}

	cfg, err := config.Load(v, flags.configFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logCfg := cfg.Logger()
	logCfg.Writer = a.LogWriter
	if logCfg.Writer == nil {
		logCfg.Writer = cmd.ErrOrStderr()
	}
	a.log = logx.New(logCfg)

	j, closeFn, err := a.OpenJournal(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	a.journal, a.closeFn = j, closeFn
	return nil
}

// Execute runs the command line and returns the process exit status: the
// verdict of the last action, 0 for commands without one, or ExitError.
func Execute(ctx context.Context, app *App, args []string, stdout, stderr io.Writer) int {
	app.status = 0
	root := NewRootCmd(app)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	app.close()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitError
	}
	if app.status != 0 {
		return int(app.status)
	}
	return 0
}

var errJournalDisabled = errors.New("journal is disabled (journal.path is empty)")
