package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"lab-console/internal/labclient"
)

const DefaultInterval = 2 * time.Second

type Revalidator interface {
	Name() string
	Revalidate(ctx context.Context) error
}

// Coordinator revalidates registered resources on an interval and after
// every mutation issued through Mutate.
type Coordinator struct {
	interval time.Duration

	mu      sync.Mutex
	targets map[int]Revalidator
	nextId  int
}

func NewCoordinator(interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		interval: interval,
		targets:  make(map[int]Revalidator),
	}
}

func (c *Coordinator) Interval() time.Duration {
	return c.interval
}

// Register adds r to the interval revalidation set until the returned
// function is called.
func (c *Coordinator) Register(r Revalidator) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextId
	c.nextId++
	c.targets[id] = r

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.targets, id)
		})
	}
}

func (c *Coordinator) registered() []Revalidator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Revalidator, 0, len(c.targets))
	for _, t := range c.targets {
		out = append(out, t)
	}
	return out
}

// RevalidateAll polls every registered resource once. Failures are logged
// and returned joined; each resource keeps its last good state.
func (c *Coordinator) RevalidateAll(ctx context.Context) error {
	return c.Revalidate(ctx, c.registered()...)
}

// Run revalidates on every tick until ctx is cancelled. It does not wait for
// or react to mutations.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.RevalidateAll(ctx)
		}
	}
}

// Mutate runs a mutating request and then revalidates targets whether or not
// it succeeded. Acting on an entity that no longer exists remotely counts as
// success once the revalidation has dropped the stale reference.
func (c *Coordinator) Mutate(ctx context.Context, op string, fn func(ctx context.Context) error, targets ...Revalidator) error {
	err := fn(ctx)
	if err != nil {
		slog.Warn("mutation failed", "op", op, "error", err)
	}

	if rerr := c.Revalidate(ctx, targets...); rerr != nil {
		slog.Warn("revalidation after mutation failed", "op", op, "error", rerr)
	}

	if err != nil && labclient.IsConflict(err) {
		slog.Info("mutation target already gone remotely", "op", op)
		return nil
	}
	return err
}

// Revalidate polls targets once, right away. Nil targets are skipped.
func (c *Coordinator) Revalidate(ctx context.Context, targets ...Revalidator) error {
	var errs []error
	for _, t := range targets {
		if t == nil {
			continue
		}
		if err := t.Revalidate(ctx); err != nil {
			slog.Warn("revalidation failed", "target", t.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
