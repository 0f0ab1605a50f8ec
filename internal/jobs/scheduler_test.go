package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

type fakeEngine struct {
	mu         sync.Mutex
	namespaces []string
	cleaned    []string
	rebuilt    []string
}

func (f *fakeEngine) Namespaces(_ context.Context) ([]string, error) {
	return f.namespaces, nil
}

func (f *fakeEngine) Cleanup(_ context.Context, ns string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, ns)
	return 0, nil
}

func (f *fakeEngine) RebuildIndex(_ context.Context, ns string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rebuilt = append(f.rebuilt, ns)
	return 0, nil
}

type fakeReflector struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeReflector) Generate(_ context.Context, ns string, kind memory.ReflectionKind, start time.Time) (*memory.Reflection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ns+"/"+string(kind)+"/"+start.Format("2006-01-02"))
	return &memory.Reflection{Namespace: ns, Kind: kind, PeriodStart: start}, nil
}

func newTestScheduler(eng *fakeEngine, refl *fakeReflector, schedule string) *Scheduler {
	return NewScheduler(eng, refl, nil, Config{Schedule: schedule}, zap.NewNop())
}

func TestDueJobsDailyRollover(t *testing.T) {
	s := newTestScheduler(&fakeEngine{}, &fakeReflector{}, "daily")

	// pin the marks to a known Wednesday
	wednesday := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	s.lastDaily = wednesday
	s.lastWeekly = weekStart(wednesday)
	s.lastCleanup = wednesday

	// still the same day: nothing due
	if due := s.dueJobs(wednesday.Add(23 * time.Hour)); len(due) != 0 {
		t.Fatalf("no rollover yet, got %d jobs", len(due))
	}

	// Thursday morning: daily reflection for Wednesday plus cleanup
	due := s.dueJobs(wednesday.Add(25 * time.Hour))
	kinds := jobKinds(due)
	if !kinds[KindReflectDaily] || !kinds[KindCleanup] {
		t.Fatalf("day rollover should fire daily reflection and cleanup, got %v", kinds)
	}
	if kinds[KindReflectWeekly] {
		t.Error("midweek rollover must not fire the weekly job")
	}
	for _, j := range due {
		if j.Kind == KindReflectDaily && !j.Period.Equal(wednesday) {
			t.Errorf("daily period = %v, want the closed day %v", j.Period, wednesday)
		}
	}

	// the same rollover never fires twice
	if due := s.dueJobs(wednesday.Add(26 * time.Hour)); len(due) != 0 {
		t.Errorf("rollover fired twice: %v", jobKinds(due))
	}
}

func TestDueJobsWeeklyRollover(t *testing.T) {
	s := newTestScheduler(&fakeEngine{}, &fakeReflector{}, "daily")

	sunday := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	s.lastDaily = sunday
	s.lastWeekly = weekStart(sunday)
	s.lastCleanup = sunday

	monday := sunday.AddDate(0, 0, 1).Add(time.Hour)
	due := s.dueJobs(monday)
	kinds := jobKinds(due)
	if !kinds[KindReflectWeekly] {
		t.Fatalf("Monday rollover should fire the weekly job, got %v", kinds)
	}
	for _, j := range due {
		if j.Kind == KindReflectWeekly {
			wantPeriod := weekStart(sunday)
			if !j.Period.Equal(wantPeriod) {
				t.Errorf("weekly period = %v, want the closed week %v", j.Period, wantPeriod)
			}
		}
	}
}

func TestDueJobsWeeklyScheduleSkipsDaily(t *testing.T) {
	s := newTestScheduler(&fakeEngine{}, &fakeReflector{}, "weekly")

	sunday := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)
	s.lastDaily = sunday
	s.lastWeekly = weekStart(sunday)
	s.lastCleanup = sunday

	due := s.dueJobs(sunday.AddDate(0, 0, 1).Add(time.Hour))
	kinds := jobKinds(due)
	if kinds[KindReflectDaily] {
		t.Error("weekly schedule must not fire daily reflections")
	}
	if !kinds[KindReflectWeekly] {
		t.Error("weekly schedule should fire on week rollover")
	}
	if !kinds[KindCleanup] {
		t.Error("cleanup runs on day rollover regardless of schedule")
	}
}

func TestDueJobsManualScheduleOnlyCleans(t *testing.T) {
	s := newTestScheduler(&fakeEngine{}, &fakeReflector{}, "manual")

	day := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	s.lastDaily = day
	s.lastWeekly = weekStart(day)
	s.lastCleanup = day

	due := s.dueJobs(day.AddDate(0, 0, 1).Add(time.Hour))
	kinds := jobKinds(due)
	if kinds[KindReflectDaily] || kinds[KindReflectWeekly] {
		t.Errorf("manual schedule must not fire reflections, got %v", kinds)
	}
	if !kinds[KindCleanup] {
		t.Error("retention cleanup runs regardless of the reflection schedule")
	}
}

func TestExecuteFansOutToNamespaces(t *testing.T) {
	eng := &fakeEngine{namespaces: []string{"u1", "u2"}}
	refl := &fakeReflector{}
	s := newTestScheduler(eng, refl, "daily")

	period := time.Date(2026, 8, 19, 0, 0, 0, 0, time.UTC)
	s.Execute(context.Background(), &Job{Kind: KindReflectDaily, Period: period})

	if len(refl.calls) != 2 {
		t.Fatalf("reflection calls = %v, want one per namespace", refl.calls)
	}
	if refl.calls[0] != "u1/daily/2026-08-19" {
		t.Errorf("unexpected call %q", refl.calls[0])
	}
}

func TestExecuteScopedJob(t *testing.T) {
	eng := &fakeEngine{namespaces: []string{"u1", "u2"}}
	s := newTestScheduler(eng, &fakeReflector{}, "daily")

	s.Execute(context.Background(), &Job{Kind: KindRebuild, Namespace: "u2"})

	if len(eng.rebuilt) != 1 || eng.rebuilt[0] != "u2" {
		t.Errorf("scoped rebuild = %v, want [u2]", eng.rebuilt)
	}
}

func TestExecuteCleanup(t *testing.T) {
	eng := &fakeEngine{namespaces: []string{"u1"}}
	s := newTestScheduler(eng, &fakeReflector{}, "daily")

	s.Execute(context.Background(), &Job{Kind: KindCleanup})

	if len(eng.cleaned) != 1 || eng.cleaned[0] != "u1" {
		t.Errorf("cleanup = %v, want [u1]", eng.cleaned)
	}
}

func jobKinds(jobs []*Job) map[string]bool {
	out := make(map[string]bool)
	for _, j := range jobs {
		out[j.Kind] = true
	}
	return out
}
