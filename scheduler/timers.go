package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

// Handle cancels an installed timer. Cancel is safe to call more than once.
type Handle interface {
	Cancel()
}

// Timers installs callbacks. Every fires fn each d until cancelled; After
// fires fn once after d.
type Timers interface {
	Every(d time.Duration, fn func()) (Handle, error)
	After(d time.Duration, fn func()) (Handle, error)
}

// CronTimers runs callbacks on a gocron scheduler.
type CronTimers struct {
	// gocron builds jobs through a shared chain; mu serializes it.
	mu sync.Mutex
	s  *gocron.Scheduler
}

// NewCronTimers starts a gocron scheduler in the background.
func NewCronTimers() *CronTimers {
	s := gocron.NewScheduler(time.UTC)
	s.StartAsync()
	return &CronTimers{s: s}
}

func (c *CronTimers) Every(d time.Duration, fn func()) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, err := c.s.Every(d).WaitForSchedule().Do(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to install recurring timer: %w", err)
	}
	return &cronHandle{s: c.s, job: job}, nil
}

func (c *CronTimers) After(d time.Duration, fn func()) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, err := c.s.Every(d).WaitForSchedule().LimitRunsTo(1).Do(fn)
	if err != nil {
		return nil, fmt.Errorf("failed to install one-shot timer: %w", err)
	}
	return &cronHandle{s: c.s, job: job}, nil
}

// Len returns the number of installed jobs.
func (c *CronTimers) Len() int {
	return c.s.Len()
}

// Close removes every job and stops the scheduler.
func (c *CronTimers) Close() {
	c.s.Clear()
	c.s.Stop()
}

type cronHandle struct {
	s   *gocron.Scheduler
	job *gocron.Job
}

func (h *cronHandle) Cancel() {
	h.s.RemoveByReference(h.job)
}
