package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/alexanderramin/notifyprobe/internal/cli/formatter"
	"github.com/alexanderramin/notifyprobe/internal/journal"
	"github.com/alexanderramin/notifyprobe/internal/poller"
	"github.com/alexanderramin/notifyprobe/internal/roundtrip"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
)

func newCheckCmd(app *App, flags *rootFlags) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "check HOST [FLAG_ID FLAG VULN]",
		Short: "Run one lifecycle check against HOST",
		Long: `Registers two accounts, schedules one short notification and polls it
from three vantage points until its plan completes, then confirms every
firing arrived in the owner's inbox.`,
		Args: cobra.RangeArgs(1, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]
			if watch && app.IsTerminal(cmd.OutOrStdout()) {
				return app.watchCheck(cmd, flags, host)
			}
			actions, err := app.Build(host, app.cfg, app.log, nil)
			if err != nil {
				return err
			}
			return app.runCheck(cmd, flags, actions, host)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "show live poll progress when stdout is a terminal")
	return cmd
}

func (a *App) runCheck(cmd *cobra.Command, flags *rootFlags, actions Actions, host string) error {
	run := journal.NewRun(journal.ActionCheck, host, a.Now())
	err := actions.Check(cmd.Context())
	return a.finish(cmd, flags, run, err, "", nil)
}

// watchCheck runs the check in the background while a bubbletea program
// renders its poll events.
func (a *App) watchCheck(cmd *cobra.Command, flags *rootFlags, host string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	p := tea.NewProgram(newWatchModel(host, cancel), tea.WithOutput(cmd.OutOrStdout()))
	actions, err := a.Build(host, a.cfg, a.log, programObserver{p: p})
	if err != nil {
		return err
	}

	run := journal.NewRun(journal.ActionCheck, host, a.Now())
	done := make(chan error, 1)
	go func() {
		err := actions.Check(ctx)
		done <- err
		p.Send(checkDoneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		a.log.Debug().Err(err).Msg("watch view stopped")
	}
	cancel()
	return a.finish(cmd, flags, run, <-done, "", nil)
}

func newPutCmd(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put HOST FLAG_ID FLAG [VULN]",
		Short: "Plant FLAG in a fresh account",
		Long: `Creates one to five long-running notifications carrying FLAG and prints the
token pair needed to verify them: the public half on stdout, the private
half on stderr.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			host, flagID, flag := args[0], args[1], args[2]
			if strings.TrimSpace(flag) == "" {
				return errEmptyFlag
			}
			actions, err := app.Build(host, app.cfg, app.log, nil)
			if err != nil {
				return err
			}

			run := journal.NewRun(journal.ActionPut, host, app.Now())
			run.FlagID = flagID
			tok, err := actions.Put(cmd.Context(), flag)
			if err != nil {
				return app.finish(cmd, flags, run, err, "", nil)
			}
			return app.finish(cmd, flags, run, nil, tok.Public, &tok)
		},
	}
}

func newGetCmd(app *App, flags *rootFlags) *cobra.Command {
	var public, runID string
	cmd := &cobra.Command{
		Use:   "get HOST FLAG_ID FLAG [VULN]",
		Short: "Verify a flag planted by put",
		Long: `FLAG_ID is the private token printed by put. Pass the public half with
--public to require the flag in every notification it names; without it,
any planted notification carrying the flag is enough.

With --run, the token pair is read from the journal and the arguments are
HOST FLAG.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if runID != "" {
				return cobra.ExactArgs(2)(cmd, args)
			}
			return cobra.RangeArgs(3, 4)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			host, flag := args[0], args[len(args)-1]
			if runID == "" {
				flag = args[2]
			}
			if strings.TrimSpace(flag) == "" {
				return errEmptyFlag
			}
			run := journal.NewRun(journal.ActionGet, host, app.Now())

			var tok roundtrip.Token
			if runID != "" {
				if app.journal == nil {
					return errJournalDisabled
				}
				planted, stored, err := app.journal.Token(cmd.Context(), runID)
				if err != nil {
					return fmt.Errorf("loading token for run %s: %w", runID, err)
				}
				tok = stored
				run.FlagID = planted.FlagID
			} else {
				tok = roundtrip.Token{Private: args[1]}
				run.FlagID = args[1]
			}
			if public != "" {
				tok.Public = public
			}

			actions, err := app.Build(host, app.cfg, app.log, nil)
			if err != nil {
				return err
			}
			err = actions.Get(cmd.Context(), flag, tok)
			return app.finish(cmd, flags, run, err, "", nil)
		},
	}
	cmd.Flags().StringVar(&public, "public", "", "public half of the token printed by put")
	cmd.Flags().StringVar(&runID, "run", "", "replay the token of a journaled put run (ID or prefix)")
	return cmd
}

// An empty flag is contained in every content and would verify nothing.
var errEmptyFlag = errors.New("FLAG must not be empty")

// finish reports the outcome of one action, journals it and remembers its
// status for the exit code. On success public and private are the values to
// print; on failure they come from the verdict.
func (a *App) finish(cmd *cobra.Command, flags *rootFlags, run *journal.Run, err error, public string, tok *roundtrip.Token) error {
	run.Duration = a.Now().Sub(run.StartedAt)
	run.Status = verdict.StatusOf(err)
	if err != nil {
		run.Public, run.Private = verdict.Describe(err)
		tok = nil
	} else {
		run.Public = public
		if tok != nil {
			run.Private = tok.Private
		}
	}
	a.status = run.Status

	ev := a.log.Info()
	if err != nil {
		ev = a.log.Warn().Str("private", run.Private)
	}
	ev.Str("run_id", run.ID).
		Str("action", string(run.Action)).
		Str("host", run.Host).
		Stringer("status", run.Status).
		Dur("took", run.Duration).
		Msg("run finished")

	// a cancelled context must not lose the journal entry
	a.record(context.WithoutCancel(cmd.Context()), run, tok)

	return formatter.WriteReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), formatter.Report{
		RunID:     run.ID,
		Action:    string(run.Action),
		Host:      run.Host,
		Status:    run.Status,
		Public:    run.Public,
		Private:   run.Private,
		StartedAt: run.StartedAt,
		Duration:  run.Duration,
	}, flags.output)
}

var _ poller.Observer = programObserver{}
