// Package scheduler runs TrialConsent's housekeeping on cron schedules. The
// jobs send the daily pending-review digest, purge expired submission keys
// and settled notices, and release chats and forms left idle in memory.
package scheduler

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the five standard fields (minute to day of week) and
// descriptors such as @daily or @every 10m.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronLogger routes cron's own messages through slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("Scheduler.cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("Scheduler.cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}

// Scheduler runs named jobs. A job whose previous run is still going is
// skipped, and a panicking job is logged instead of stopping the process.
type Scheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// NewScheduler creates a scheduler and starts its clock.
func NewScheduler() *Scheduler {
	logger := cronLogger{}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	c.Start()
	return &Scheduler{cron: c, jobs: make(map[string]cron.EntryID)}
}

// AddJob schedules task under name. Names are unique and expr must be a
// five-field cron expression or a descriptor.
func (s *Scheduler) AddJob(name, expr string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("job %q: %w", name, err)
	}
	s.jobs[name] = id
	slog.Debug("Scheduler.AddJob: scheduled", "job", name, "expr", expr)
	return nil
}

// Jobs returns the scheduled job names in order.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Stop halts the clock and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
