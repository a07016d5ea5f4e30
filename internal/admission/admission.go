// Package admission bounds concurrent generations per backend class.
package admission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pool identifies a permit pool.
type Pool string

const (
	// PoolRemote is shared by the hosted platform and OpenAI-compatible backends.
	PoolRemote Pool = "remote"
	// PoolLocal serializes the local ComfyUI pipeline.
	PoolLocal Pool = "local"
)

// Config sets pool capacities.
type Config struct {
	RemoteCapacity int `yaml:"remote_capacity" env:"REMOTE_CAPACITY" validate:"gte=1"`
	LocalCapacity  int `yaml:"local_capacity" env:"LOCAL_CAPACITY" validate:"gte=1"`
}

// DefaultConfig returns the standard capacities: 4 remote, 1 local.
func DefaultConfig() Config {
	return Config{
		RemoteCapacity: 4,
		LocalCapacity:  1,
	}
}

// Observer receives admission events, typically a metrics collector.
type Observer interface {
	ObserveAdmissionWait(pool string, wait time.Duration)
	SetAdmissionInUse(pool string, inUse int)
}

// Stats is a point-in-time view of one pool.
type Stats struct {
	Capacity int   `json:"capacity"`
	InUse    int   `json:"in_use"`
	Waiting  int   `json:"waiting"`
	Acquired int64 `json:"acquired"`
}

type permits struct {
	capacity int64
	sem      *semaphore.Weighted
	inUse    atomic.Int64
	waiting  atomic.Int64
	acquired atomic.Int64
}

// Controller owns the permit pools. Waiters are served in arrival order.
type Controller struct {
	pools    map[Pool]*permits
	observer Observer
	logger   *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver reports waits and occupancy to o.
func WithObserver(o Observer) Option {
	return func(c *Controller) { c.observer = o }
}

// New creates a controller with one pool per backend class. Capacities
// below one are raised to one.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		pools: map[Pool]*permits{
			PoolRemote: newPermits(cfg.RemoteCapacity),
			PoolLocal:  newPermits(cfg.LocalCapacity),
		},
		logger: logger.With(zap.String("component", "admission")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newPermits(capacity int) *permits {
	if capacity < 1 {
		capacity = 1
	}
	return &permits{capacity: int64(capacity), sem: semaphore.NewWeighted(int64(capacity))}
}

func (c *Controller) pool(p Pool) (*permits, error) {
	pp, ok := c.pools[p]
	if !ok {
		return nil, fmt.Errorf("admission: unknown pool %q", p)
	}
	return pp, nil
}

// Acquire blocks until a permit of pool p is free or ctx ends.
func (c *Controller) Acquire(ctx context.Context, p Pool) error {
	pp, err := c.pool(p)
	if err != nil {
		return err
	}

	start := time.Now()
	pp.waiting.Add(1)
	err = pp.sem.Acquire(ctx, 1)
	pp.waiting.Add(-1)
	if err != nil {
		c.logger.Debug("admission abandoned", zap.String("pool", string(p)), zap.Error(err))
		return err
	}

	inUse := pp.inUse.Add(1)
	pp.acquired.Add(1)
	wait := time.Since(start)
	if c.observer != nil {
		c.observer.ObserveAdmissionWait(string(p), wait)
		c.observer.SetAdmissionInUse(string(p), int(inUse))
	}
	c.logger.Debug("permit acquired",
		zap.String("pool", string(p)),
		zap.Duration("wait", wait),
		zap.Int64("in_use", inUse),
	)
	return nil
}

// Release returns a permit to pool p. Releasing more than was acquired is a
// programming error and panics.
func (c *Controller) Release(p Pool) {
	pp, err := c.pool(p)
	if err != nil {
		panic(err)
	}
	inUse := pp.inUse.Add(-1)
	if inUse < 0 {
		pp.inUse.Add(1)
		panic(fmt.Sprintf("admission: release of %s pool without matching acquire", p))
	}
	pp.sem.Release(1)
	if c.observer != nil {
		c.observer.SetAdmissionInUse(string(p), int(inUse))
	}
}

// Do runs fn while holding a permit of pool p. The permit is released on
// every exit path, panics included.
func (c *Controller) Do(ctx context.Context, p Pool, fn func(ctx context.Context) error) error {
	if err := c.Acquire(ctx, p); err != nil {
		return err
	}
	defer c.Release(p)
	return fn(ctx)
}

// Stats reports the current state of pool p. Unknown pools report zero.
func (c *Controller) Stats(p Pool) Stats {
	pp, err := c.pool(p)
	if err != nil {
		return Stats{}
	}
	return Stats{
		Capacity: int(pp.capacity),
		InUse:    int(pp.inUse.Load()),
		Waiting:  int(pp.waiting.Load()),
		Acquired: pp.acquired.Load(),
	}
}
