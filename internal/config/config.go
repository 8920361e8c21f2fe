// Package config loads layered settings: built-in defaults, an optional YAML
// file, NOTIFYPROBE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alexanderramin/notifyprobe/internal/checker"
	"github.com/alexanderramin/notifyprobe/internal/imapbox"
	"github.com/alexanderramin/notifyprobe/internal/logx"
	"github.com/alexanderramin/notifyprobe/internal/notifyapi"
)

// EnvPrefix namespaces environment overrides, e.g. NOTIFYPROBE_CHECK_SLA.
const EnvPrefix = "NOTIFYPROBE"

type Config struct {
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	IMAP    IMAPConfig    `mapstructure:"imap" yaml:"imap"`
	Check   CheckConfig   `mapstructure:"check" yaml:"check"`
	Flags   FlagsConfig   `mapstructure:"flags" yaml:"flags"`
	Journal JournalConfig `mapstructure:"journal" yaml:"journal"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type APIConfig struct {
	Port               int           `mapstructure:"port" yaml:"port"`
	Path               string        `mapstructure:"path" yaml:"path"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	PollRequestTimeout time.Duration `mapstructure:"poll_request_timeout" yaml:"poll_request_timeout"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RatePerSec         float64       `mapstructure:"rate_per_sec" yaml:"rate_per_sec"`
}

type IMAPConfig struct {
	Port    int           `mapstructure:"port" yaml:"port"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Sender  string        `mapstructure:"sender" yaml:"sender"`
}

type CheckConfig struct {
	SLA     time.Duration `mapstructure:"sla" yaml:"sla"`
	Grace   time.Duration `mapstructure:"grace" yaml:"grace"`
	Cadence time.Duration `mapstructure:"cadence" yaml:"cadence"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type FlagsConfig struct {
	RoundTime      time.Duration `mapstructure:"round_time" yaml:"round_time"`
	Lifetime       int           `mapstructure:"lifetime" yaml:"lifetime"`
	MaxRepeatCount int           `mapstructure:"max_repeat_count" yaml:"max_repeat_count"`
}

type JournalConfig struct {
	// Path of the SQLite journal. Empty disables journaling.
	Path string `mapstructure:"path" yaml:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// SetDefaults registers every key with its default so that environment
// variables are honored even when no file sets the key.
func SetDefaults(v *viper.Viper) {
	api := notifyapi.DefaultConfig("")
	v.SetDefault("api.port", api.Port)
	v.SetDefault("api.path", api.Path)
	v.SetDefault("api.request_timeout", api.RequestTimeout)
	v.SetDefault("api.poll_request_timeout", api.PollRequestTimeout)
	v.SetDefault("api.max_retries", api.MaxRetries)
	v.SetDefault("api.rate_per_sec", api.RatePerSec)

	mail := imapbox.DefaultConfig("")
	chk := checker.DefaultConfig()
	v.SetDefault("imap.port", mail.Port)
	v.SetDefault("imap.timeout", mail.Timeout)
	v.SetDefault("imap.sender", chk.Sender)

	v.SetDefault("check.sla", chk.SLA)
	v.SetDefault("check.grace", chk.Grace)
	v.SetDefault("check.cadence", chk.Cadence)
	v.SetDefault("check.timeout", chk.Timeout)

	v.SetDefault("flags.round_time", chk.RoundTime)
	v.SetDefault("flags.lifetime", chk.FlagLifetime)
	v.SetDefault("flags.max_repeat_count", chk.MaxRepeatCount)

	v.SetDefault("journal.path", "~/.notifyprobe/journal.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logx.FormatAuto)
}

// Load resolves the configuration held by v. file, when non-empty, is read
// as YAML. Flags must already be bound to v.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	path, err := expandHome(cfg.Journal.Path)
	if err != nil {
		return Config{}, err
	}
	cfg.Journal.Path = path

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving journal path: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate rejects settings the checker cannot run with.
func (c Config) Validate() error {
	var errs []error
	positive := func(key string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", key, d))
		}
	}
	positive("api.request_timeout", c.API.RequestTimeout)
	positive("api.poll_request_timeout", c.API.PollRequestTimeout)
	positive("imap.timeout", c.IMAP.Timeout)
	positive("check.sla", c.Check.SLA)
	positive("check.grace", c.Check.Grace)
	positive("check.cadence", c.Check.Cadence)
	positive("check.timeout", c.Check.Timeout)
	positive("flags.round_time", c.Flags.RoundTime)

	if c.API.RequestTimeout >= c.Check.SLA {
		errs = append(errs, fmt.Errorf("api.request_timeout (%s) must be below check.sla (%s)", c.API.RequestTimeout, c.Check.SLA))
	}
	if c.API.PollRequestTimeout >= c.Check.SLA {
		errs = append(errs, fmt.Errorf("api.poll_request_timeout (%s) must be below check.sla (%s)", c.API.PollRequestTimeout, c.Check.SLA))
	}
	for key, port := range map[string]int{"api.port": c.API.Port, "imap.port": c.IMAP.Port} {
		if port <= 0 || port > 65535 {
			errs = append(errs, fmt.Errorf("%s out of range: %d", key, port))
		}
	}
	if c.API.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("api.max_retries must not be negative"))
	}
	if c.Flags.Lifetime <= 0 {
		errs = append(errs, fmt.Errorf("flags.lifetime must be positive"))
	}
	if c.Flags.MaxRepeatCount < 0 {
		errs = append(errs, fmt.Errorf("flags.max_repeat_count must not be negative"))
	}
	if c.IMAP.Sender == "" {
		errs = append(errs, fmt.Errorf("imap.sender is required"))
	}
	if !logx.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format must be auto, console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// NotifyAPI returns the transport settings for host.
func (c Config) NotifyAPI(host string) notifyapi.Config {
	return notifyapi.Config{
		Host:               host,
		Port:               c.API.Port,
		Path:               c.API.Path,
		RequestTimeout:     c.API.RequestTimeout,
		PollRequestTimeout: c.API.PollRequestTimeout,
		MaxRetries:         c.API.MaxRetries,
		RatePerSec:         c.API.RatePerSec,
	}
}

// Mailbox returns the IMAP settings for host.
func (c Config) Mailbox(host string) imapbox.Config {
	return imapbox.Config{Host: host, Port: c.IMAP.Port, Timeout: c.IMAP.Timeout}
}

// Checker returns the use-case timings.
func (c Config) Checker() checker.Config {
	return checker.Config{
		SLA:            c.Check.SLA,
		Grace:          c.Check.Grace,
		Cadence:        c.Check.Cadence,
		Timeout:        c.Check.Timeout,
		RoundTime:      c.Flags.RoundTime,
		FlagLifetime:   c.Flags.Lifetime,
		MaxRepeatCount: c.Flags.MaxRepeatCount,
		Sender:         c.IMAP.Sender,
	}
}

// Logger returns the logging settings.
func (c Config) Logger() logx.Config {
	return logx.Config{Level: c.Log.Level, Format: c.Log.Format}
}
