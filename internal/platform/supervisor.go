// Package platform runs background training jobs under supervision:
// a failed job is restarted with exponential backoff until it succeeds,
// is cancelled, or exhausts its restart budget.
package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type RestartPolicy string

const (
	RestartPermanent RestartPolicy = "permanent"
	RestartTransient RestartPolicy = "transient"
	RestartTemporary RestartPolicy = "temporary"
)

type SupervisorPolicy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	MaxRestarts    int
}

type JobSpec struct {
	Name    string
	Restart RestartPolicy
}

type JobStatus struct {
	Name            string        `json:"name"`
	RestartPolicy   RestartPolicy `json:"restart_policy"`
	RestartCount    int           `json:"restart_count"`
	LastError       string        `json:"last_error,omitempty"`
	PermanentFailed bool          `json:"permanent_failed"`
}

type SupervisorHooks struct {
	OnJobRestart          func(name string, err error, restartCount int)
	OnJobPermanentFailure func(name string, err error, restartCount int)
}

func defaultSupervisorPolicy() SupervisorPolicy {
	return SupervisorPolicy{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		BackoffFactor:  2.0,
		MaxRestarts:    0,
	}
}

func normalizeSupervisorPolicy(policy SupervisorPolicy) SupervisorPolicy {
	def := defaultSupervisorPolicy()
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = def.InitialBackoff
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = def.MaxBackoff
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.BackoffFactor < 1 {
		policy.BackoffFactor = def.BackoffFactor
	}
	return policy
}

type Supervisor struct {
	policy SupervisorPolicy
	hooks  SupervisorHooks

	mu       sync.Mutex
	jobs     map[string]*supervisedJob
	finished map[string]JobStatus
}

type supervisedJob struct {
	cancel context.CancelFunc
	done   chan struct{}
	spec   JobSpec

	restartCount    int
	lastErr         error
	permanentFailed bool
}

func NewSupervisor(policy SupervisorPolicy) *Supervisor {
	return NewSupervisorWithHooks(policy, SupervisorHooks{})
}

func NewSupervisorWithHooks(policy SupervisorPolicy, hooks SupervisorHooks) *Supervisor {
	return &Supervisor{
		policy:   normalizeSupervisorPolicy(policy),
		hooks:    hooks,
		jobs:     make(map[string]*supervisedJob),
		finished: make(map[string]JobStatus),
	}
}

func (s *Supervisor) Start(name string, run func(ctx context.Context) error) error {
	return s.StartSpec(JobSpec{Name: name, Restart: RestartTransient}, run)
}

func (s *Supervisor) StartSpec(spec JobSpec, run func(ctx context.Context) error) error {
	if spec.Name == "" {
		return errors.New("job name is required")
	}
	if run == nil {
		return errors.New("job runner is required")
	}
	switch spec.Restart {
	case RestartPermanent, RestartTransient, RestartTemporary:
	default:
		spec.Restart = RestartTransient
	}

	s.mu.Lock()
	if _, exists := s.jobs[spec.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("job already running: %s", spec.Name)
	}
	delete(s.finished, spec.Name)
	ctx, cancel := context.WithCancel(context.Background())
	job := &supervisedJob{
		cancel: cancel,
		done:   make(chan struct{}),
		spec:   spec,
	}
	s.jobs[spec.Name] = job
	s.mu.Unlock()

	go s.runJob(ctx, job, run)
	return nil
}

func (s *Supervisor) runJob(ctx context.Context, job *supervisedJob, run func(ctx context.Context) error) {
	name := job.spec.Name
	defer func() {
		s.mu.Lock()
		if current, ok := s.jobs[name]; ok && current == job {
			if job.permanentFailed || job.restartCount > 0 || job.lastErr != nil {
				s.finished[name] = statusOf(job)
			}
			delete(s.jobs, name)
		}
		s.mu.Unlock()
		close(job.done)
	}()

	backoff := s.policy.InitialBackoff

	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if !shouldRestart(job.spec.Restart, err) {
			return
		}
		s.mu.Lock()
		job.lastErr = err
		restarts := job.restartCount
		s.mu.Unlock()
		if s.policy.MaxRestarts > 0 && restarts >= s.policy.MaxRestarts {
			s.mu.Lock()
			job.permanentFailed = true
			s.mu.Unlock()
			if s.hooks.OnJobPermanentFailure != nil {
				go s.hooks.OnJobPermanentFailure(name, err, restarts)
			}
			return
		}
		restarts++
		s.mu.Lock()
		job.restartCount = restarts
		s.mu.Unlock()
		if s.hooks.OnJobRestart != nil {
			s.hooks.OnJobRestart(name, err, restarts)
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		next := time.Duration(float64(backoff) * s.policy.BackoffFactor)
		if next > s.policy.MaxBackoff {
			next = s.policy.MaxBackoff
		}
		backoff = next
	}
}

func shouldRestart(policy RestartPolicy, err error) bool {
	switch policy {
	case RestartPermanent:
		return true
	case RestartTransient:
		return err != nil
	case RestartTemporary:
		return false
	default:
		return err != nil
	}
}

func (s *Supervisor) Stop(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	delete(s.finished, name)
	s.mu.Unlock()
	if !ok {
		return
	}
	job.cancel()
	<-job.done
}

func (s *Supervisor) StopAll() {
	s.mu.Lock()
	jobs := make([]*supervisedJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.finished = make(map[string]JobStatus)
	s.mu.Unlock()

	for _, job := range jobs {
		job.cancel()
	}
	for _, job := range jobs {
		<-job.done
	}
}

// Wait blocks until the named job finishes on its own.
func (s *Supervisor) Wait(name string) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return
	}
	<-job.done
}

func (s *Supervisor) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) Statuses() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.jobs)+len(s.finished))
	for name := range s.jobs {
		names = append(names, name)
	}
	for name := range s.finished {
		if _, active := s.jobs[name]; active {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		if job, ok := s.jobs[name]; ok {
			out = append(out, statusOf(job))
			continue
		}
		if finished, ok := s.finished[name]; ok {
			out = append(out, finished)
		}
	}
	return out
}

func statusOf(job *supervisedJob) JobStatus {
	status := JobStatus{
		Name:            job.spec.Name,
		RestartPolicy:   job.spec.Restart,
		RestartCount:    job.restartCount,
		PermanentFailed: job.permanentFailed,
	}
	if job.lastErr != nil {
		status.LastError = job.lastErr.Error()
	}
	return status
}
