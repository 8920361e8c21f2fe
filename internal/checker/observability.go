package checker

import (
	"context"
	"time"

	"github.com/alexanderramin/notifyprobe/internal/domain"
	"github.com/alexanderramin/notifyprobe/internal/poller"
	"github.com/alexanderramin/notifyprobe/internal/verdict"
	"github.com/rs/zerolog"
)

// UseCaseEvent captures lightweight execution telemetry for a check action.
type UseCaseEvent struct {
	Name      string
	Duration  time.Duration
	Success   bool
	Err       error
	Fields    map[string]any
	StartedAt time.Time
}

// UseCaseObserver receives use-case execution events.
type UseCaseObserver interface {
	ObserveUseCase(ctx context.Context, event UseCaseEvent)
}

// NoopUseCaseObserver ignores all events.
type NoopUseCaseObserver struct{}

func (NoopUseCaseObserver) ObserveUseCase(context.Context, UseCaseEvent) {}

type logUseCaseObserver struct {
	log zerolog.Logger
}

// NewLogUseCaseObserver writes use-case events to log.
func NewLogUseCaseObserver(log zerolog.Logger) UseCaseObserver {
	return &logUseCaseObserver{log: log}
}

func (o *logUseCaseObserver) ObserveUseCase(_ context.Context, event UseCaseEvent) {
	ev := o.log.Info()
	if event.Err != nil {
		public, private := verdict.Describe(event.Err)
		ev = o.log.Error().Str("public", public).Str("private", private)
	}
	ev = ev.Str("use_case", event.Name).
		Int64("duration_ms", event.Duration.Milliseconds()).
		Bool("success", event.Success).
		Stringer("status", verdict.StatusOf(event.Err))
	for k, v := range event.Fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("use_case")
}

func useCaseObserverOrNoop(observers []UseCaseObserver) UseCaseObserver {
	for _, obs := range observers {
		if obs != nil {
			return obs
		}
	}
	return NoopUseCaseObserver{}
}

// pollLogger logs every poll event at debug and forwards it.
type pollLogger struct {
	log  zerolog.Logger
	next poller.Observer
}

func (o pollLogger) OnPoll(e poller.Event) {
	ev := o.log.Debug()
	if e.Err != nil {
		ev = o.log.Warn().Err(e.Err)
	}
	ev.Int("tick", e.Tick).
		Str("vantage", string(e.Vantage)).
		Str("state", e.State.String()).
		Int("sent", countSent(e.Plan)).
		Int("planned", len(e.Plan)).
		Bool("final", e.Final).
		Msg("poll")
	if o.next != nil {
		o.next.OnPoll(e)
	}
}

func countSent(entries []domain.PlanEntry) int {
	n := 0
	for _, e := range entries {
		if e.Sent() {
			n++
		}
	}
	return n
}
