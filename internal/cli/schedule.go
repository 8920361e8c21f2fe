package cli

import (
	"fmt"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// scheduleParser accepts standard five-field specs, an optional leading
// seconds field and descriptors such as @every 1m.
var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newScheduleCmd(app *App, flags *rootFlags) *cobra.Command {
	var spec string
	var runs int
	cmd := &cobra.Command{
		Use:   "schedule HOST",
		Short: "Run check against HOST on a cron schedule",
		Long: `Runs check whenever the schedule fires, until interrupted or --runs checks
have completed. A check still running when the next one is due delays it.
Every run is journaled; the exit status is that of the last check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			host := args[0]
			spec = strings.TrimSpace(spec)
			sched, err := scheduleParser.Parse(spec)
			if err != nil {
				return fmt.Errorf("invalid --cron %q: %w", spec, err)
			}
			if runs < 0 {
				return fmt.Errorf("--runs must not be negative")
			}
			actions, err := app.Build(host, app.cfg, app.log, nil)
			if err != nil {
				return err
			}

			log := cronLogger{log: app.log.With().Str("component", "schedule").Logger()}
			c := cron.New(cron.WithParser(scheduleParser), cron.WithLogger(log),
				cron.WithChain(cron.Recover(log), cron.DelayIfStillRunning(log)))

			ctx := cmd.Context()
			finished := make(chan struct{})
			var once sync.Once
			var mu sync.Mutex
			var completed int
			var runErr error

			c.Schedule(sched, cron.FuncJob(func() {
				if ctx.Err() != nil {
					return
				}
				err := app.runCheck(cmd, flags, actions, host)

				mu.Lock()
				completed++
				if err != nil {
					runErr = err
				}
				done := err != nil || (runs > 0 && completed >= runs)
				mu.Unlock()
				if done {
					once.Do(func() { close(finished) })
				}
			}))

			app.log.Info().Str("host", host).Str("cron", spec).Int("runs", runs).
				Time("next", sched.Next(app.Now())).Msg("schedule started")
			c.Start()
			select {
			case <-ctx.Done():
				app.log.Info().Msg("schedule interrupted")
			case <-finished:
			}
			<-c.Stop().Done()

			mu.Lock()
			defer mu.Unlock()
			app.log.Info().Int("completed", completed).Msg("schedule stopped")
			return runErr
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "@every 1m", "cron spec or descriptor")
	cmd.Flags().IntVar(&runs, "runs", 0, "stop after this many checks (0 runs until interrupted)")
	return cmd
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
