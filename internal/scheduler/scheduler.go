package scheduler

import (
	"context"
	"time"

	"upbitmt/internal/logger"
)

// IntervalScheduler runs a task, waits Interval after it returns, and repeats.
// Runs never overlap. A task error stops the loop and is returned.
type IntervalScheduler struct {
	Name     string
	Interval time.Duration

	nowFn func() time.Time
}

func NewIntervalScheduler(name string, interval time.Duration) *IntervalScheduler {
	return &IntervalScheduler{Name: name, Interval: interval, nowFn: time.Now}
}

func (s *IntervalScheduler) Run(ctx context.Context, task func(context.Context) error) error {
	if task == nil {
		logger.Warnf("IntervalScheduler[%s]: task is nil, exit", s.Name)
		return nil
	}
	if s.Interval <= 0 {
		logger.Warnf("IntervalScheduler[%s]: invalid interval=%s, exit", s.Name, s.Interval)
		return nil
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	logger.Infof("IntervalScheduler[%s]: started interval=%s", s.Name, s.Interval)

	for {
		if err := ctx.Err(); err != nil {
			logger.Infof("IntervalScheduler[%s]: ctx done, exit", s.Name)
			return nil
		}
		started := s.nowFn()
		if err := task(ctx); err != nil {
			return err
		}
		logger.Debugf("IntervalScheduler[%s]: run took %s, next in %s", s.Name, s.nowFn().Sub(started).Truncate(time.Millisecond), s.Interval)

		timer := time.NewTimer(s.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Infof("IntervalScheduler[%s]: ctx done, exit", s.Name)
			return nil
		case <-timer.C:
		}
	}
}

// AlignedScheduler fires on wall-clock boundaries of Interval plus Offset,
// e.g. at the top of every hour.
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until the context is done.
func (s *AlignedScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("AlignedScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	if s.RunImmediately {
		task()
	}
	for {
		now := s.nowFn()
		wakeAt := s.nextWake(now)
		wait := wakeAt.Sub(now)
		logger.Debugf("AlignedScheduler: next run at %s (in %s)", wakeAt.Format(time.RFC3339), wait.Truncate(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		task()
	}
}

func (s *AlignedScheduler) nextWake(now time.Time) time.Time {
	now = now.UTC()
	return now.Truncate(s.Interval).Add(s.Interval).Add(s.Offset)
}
