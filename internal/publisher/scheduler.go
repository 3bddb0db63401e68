package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	indexerimpl "github.com/Synternet/bondingcurve-indexer/internal/indexer"
	"github.com/Synternet/bondingcurve-indexer/pkg/indexer"
)

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}

// Scheduler triggers snapshot runs on a cron schedule, acting as an in-process external caller.
// Ticks that fire while a run is still going are skipped, not queued.
type Scheduler struct {
	logger  *slog.Logger
	indexer indexer.Indexer
	cron    *cron.Cron
}

// NewScheduler parses spec (seconds field optional) and binds runs to ctx.
func NewScheduler(ctx context.Context, idx indexer.Indexer, spec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("module", "scheduler")
	clog := cronLogger{logger: logger}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	ret := &Scheduler{
		logger:  logger,
		indexer: idx,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
	}

	_, err := ret.cron.AddFunc(spec, func() {
		ret.tick(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return ret, nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	result, err := s.indexer.RunOnce(ctx)
	switch {
	case errors.Is(err, indexerimpl.ErrRunInProgress):
		s.logger.Info("Scheduled run skipped, another run is in progress")
	case err != nil:
		s.logger.Error("Scheduled run failed", "err", err)
	default:
		s.logger.Info("Scheduled run finished", "run", result.RunID, "count", result.Count())
	}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Cron started", "entries", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
