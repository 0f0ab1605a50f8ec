package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// Engine is the slice of the recall engine the scheduler drives.
type Engine interface {
	Namespaces(ctx context.Context) ([]string, error)
	Cleanup(ctx context.Context, namespace string) (int, error)
	RebuildIndex(ctx context.Context, namespace string) (int, error)
}

// Reflector generates reflections for closed windows.
type Reflector interface {
	Generate(ctx context.Context, namespace string, kind memory.ReflectionKind, periodStart time.Time) (*memory.Reflection, error)
}

// Config tunes the scheduler.
type Config struct {
	Schedule string        // "daily", "weekly", "manual"
	PoolSize int           // concurrent job executions
	Tick     time.Duration // rollover check interval
}

// Scheduler fires maintenance jobs when time windows roll over and
// executes jobs arriving on the bus. Work runs through a bounded
// semaphore pool so a slow namespace cannot starve the rest.
type Scheduler struct {
	engine    Engine
	reflector Reflector
	bus       *Bus // nil when redis is unavailable
	cfg       Config
	pool      chan struct{}
	logger    *zap.Logger

	mu          sync.Mutex
	lastDaily   time.Time
	lastWeekly  time.Time
	lastCleanup time.Time

	now func() time.Time
}

// NewScheduler creates a Scheduler. bus may be nil; scheduled work then
// runs in-process only.
func NewScheduler(engine Engine, reflector Reflector, bus *Bus, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	now := time.Now().UTC()
	return &Scheduler{
		engine:    engine,
		reflector: reflector,
		bus:       bus,
		cfg:       cfg,
		pool:      make(chan struct{}, cfg.PoolSize),
		logger:    logger,
		// windows already closed before startup are generated on demand
		// by the read path, not replayed here
		lastDaily:   dayStart(now),
		lastWeekly:  weekStart(now),
		lastCleanup: dayStart(now),
		now:         time.Now,
	}
}

// Run blocks until the context is cancelled, firing due jobs on each
// tick and draining the bus.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	var busCh <-chan *Job
	if s.bus != nil {
		busCh = s.bus.Subscribe(ctx)
	}

	s.logger.Info("scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Int("pool", s.cfg.PoolSize))

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
			for _, job := range s.dueJobs(s.now().UTC()) {
				s.dispatch(ctx, &wg, job)
			}
		case job, ok := <-busCh:
			if !ok {
				busCh = nil
				continue
			}
			s.dispatch(ctx, &wg, job)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, wg *sync.WaitGroup, job *Job) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case s.pool <- struct{}{}:
			defer func() { <-s.pool }()
		case <-ctx.Done():
			return
		}
		s.Execute(ctx, job)
	}()
}

// dueJobs reports which maintenance windows rolled over since the last
// check and marks them fired. A "daily" schedule generates both daily
// and weekly reflections, "weekly" only the weekly ones, "manual" none;
// retention cleanup runs on day rollover regardless.
func (s *Scheduler) dueJobs(now time.Time) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*Job
	day := dayStart(now)

	if s.cfg.Schedule == "daily" && day.After(s.lastDaily) {
		due = append(due, &Job{
			ID:         uuid.New().String(),
			Kind:       KindReflectDaily,
			Period:     day.AddDate(0, 0, -1),
			EnqueuedAt: now,
		})
		s.lastDaily = day
	}

	if s.cfg.Schedule != "manual" {
		week := weekStart(now)
		if week.After(s.lastWeekly) {
			due = append(due, &Job{
				ID:         uuid.New().String(),
				Kind:       KindReflectWeekly,
				Period:     week.AddDate(0, 0, -7),
				EnqueuedAt: now,
			})
			s.lastWeekly = week
		}
	}

	if day.After(s.lastCleanup) {
		due = append(due, &Job{
			ID:         uuid.New().String(),
			Kind:       KindCleanup,
			EnqueuedAt: now,
		})
		s.lastCleanup = day
	}
	return due
}

// Execute runs one job to completion. Per-namespace failures are logged
// and skipped so one broken namespace does not block the rest.
func (s *Scheduler) Execute(ctx context.Context, job *Job) {
	start := time.Now()
	namespaces, err := s.targets(ctx, job)
	if err != nil {
		s.logger.Error("job target resolution failed",
			zap.String("kind", job.Kind), zap.Error(err))
		return
	}

	for _, ns := range namespaces {
		switch job.Kind {
		case KindReflectDaily:
			_, err = s.reflector.Generate(ctx, ns, memory.ReflectionDaily, job.Period)
		case KindReflectWeekly:
			_, err = s.reflector.Generate(ctx, ns, memory.ReflectionWeekly, job.Period)
		case KindCleanup:
			_, err = s.engine.Cleanup(ctx, ns)
		case KindRebuild:
			_, err = s.engine.RebuildIndex(ctx, ns)
		default:
			s.logger.Warn("unknown job kind", zap.String("kind", job.Kind))
			return
		}
		if err != nil {
			s.logger.Error("job failed for namespace",
				zap.String("kind", job.Kind),
				zap.String("namespace", ns),
				zap.Error(err))
		}
	}

	s.logger.Info("job completed",
		zap.String("kind", job.Kind),
		zap.Int("namespaces", len(namespaces)),
		zap.Duration("duration", time.Since(start)))
}

func (s *Scheduler) targets(ctx context.Context, job *Job) ([]string, error) {
	if job.Namespace != "" {
		return []string{job.Namespace}, nil
	}
	return s.engine.Namespaces(ctx)
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDate(0, 0, -offset)
}
