package platform

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

func TestStartSpecValidation(t *testing.T) {
	sup := NewSupervisor(fastPolicy())
	if err := sup.StartSpec(JobSpec{}, func(context.Context) error { return nil }); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := sup.StartSpec(JobSpec{Name: "job"}, nil); err == nil {
		t.Fatal("nil runner accepted")
	}

	block := make(chan struct{})
	if err := sup.Start("job", func(ctx context.Context) error {
		<-block
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := sup.Start("job", func(context.Context) error { return nil }); err == nil {
		t.Fatal("duplicate name accepted")
	}
	close(block)
	sup.Wait("job")
}

func TestTransientRestartsUntilSuccess(t *testing.T) {
	sup := NewSupervisor(fastPolicy())
	var attempts atomic.Int32
	if err := sup.StartSpec(JobSpec{Name: "flaky", Restart: RestartTransient}, func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient failure")
		}
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.Wait("flaky")

	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts: %d", got)
	}
	if jobs := sup.Jobs(); len(jobs) != 0 {
		t.Fatalf("jobs still registered: %v", jobs)
	}
}

func TestTemporaryNeverRestarts(t *testing.T) {
	sup := NewSupervisor(fastPolicy())
	var attempts atomic.Int32
	if err := sup.StartSpec(JobSpec{Name: "once", Restart: RestartTemporary}, func(context.Context) error {
		attempts.Add(1)
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.Wait("once")
	if got := attempts.Load(); got != 1 {
		t.Fatalf("attempts: %d", got)
	}
}

func TestMaxRestartsMarksPermanentFailure(t *testing.T) {
	policy := fastPolicy()
	policy.MaxRestarts = 2

	var failedName string
	var failedCount int
	done := make(chan struct{})
	hooks := SupervisorHooks{
		OnJobPermanentFailure: func(name string, err error, restartCount int) {
			failedName = name
			failedCount = restartCount
			close(done)
		},
	}
	sup := NewSupervisorWithHooks(policy, hooks)

	var attempts atomic.Int32
	if err := sup.StartSpec(JobSpec{Name: "doomed", Restart: RestartTransient}, func(context.Context) error {
		attempts.Add(1)
		return errors.New("always fails")
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.Wait("doomed")
	<-done

	// Initial attempt plus MaxRestarts retries.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("attempts: %d", got)
	}
	if failedName != "doomed" || failedCount != 2 {
		t.Fatalf("failure hook: name=%q count=%d", failedName, failedCount)
	}

	statuses := sup.Statuses()
	if len(statuses) != 1 || !statuses[0].PermanentFailed {
		t.Fatalf("statuses: %+v", statuses)
	}
	if statuses[0].LastError == "" {
		t.Fatal("last error not recorded")
	}
}

func TestRestartHookObservesEachRetry(t *testing.T) {
	var restarts atomic.Int32
	hooks := SupervisorHooks{
		OnJobRestart: func(string, error, int) { restarts.Add(1) },
	}
	sup := NewSupervisorWithHooks(fastPolicy(), hooks)

	var attempts atomic.Int32
	if err := sup.StartSpec(JobSpec{Name: "flaky", Restart: RestartTransient}, func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("transient failure")
		}
		return nil
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	sup.Wait("flaky")
	if got := restarts.Load(); got != 2 {
		t.Fatalf("restart hook fired %d times", got)
	}
}

func TestStopCancelsRunningJob(t *testing.T) {
	sup := NewSupervisor(fastPolicy())
	started := make(chan struct{})
	if err := sup.Start("long", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}); err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started
	sup.Stop("long")

	if jobs := sup.Jobs(); len(jobs) != 0 {
		t.Fatalf("jobs after stop: %v", jobs)
	}
	// Stopping a missing job is a no-op.
	sup.Stop("missing")
}

func TestStopAll(t *testing.T) {
	sup := NewSupervisor(fastPolicy())
	for _, name := range []string{"a", "b", "c"} {
		if err := sup.Start(name, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}); err != nil {
			t.Fatalf("start %s: %v", name, err)
		}
	}
	if jobs := sup.Jobs(); len(jobs) != 3 {
		t.Fatalf("jobs: %v", jobs)
	}
	sup.StopAll()
	if jobs := sup.Jobs(); len(jobs) != 0 {
		t.Fatalf("jobs after stop all: %v", jobs)
	}
	if statuses := sup.Statuses(); len(statuses) != 0 {
		t.Fatalf("statuses after stop all: %+v", statuses)
	}
}

func TestPolicyNormalization(t *testing.T) {
	p := normalizeSupervisorPolicy(SupervisorPolicy{})
	if p.InitialBackoff <= 0 || p.MaxBackoff < p.InitialBackoff || p.BackoffFactor < 1 {
		t.Fatalf("normalized policy: %+v", p)
	}

	p = normalizeSupervisorPolicy(SupervisorPolicy{
		InitialBackoff: time.Second,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  2,
	})
	if p.MaxBackoff != time.Second {
		t.Fatalf("max backoff not raised to initial: %v", p.MaxBackoff)
	}
}
