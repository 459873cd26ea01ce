package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CapabilityProbe caches the outcome of an availability check for a fixed TTL.
// Concurrent callers with an expired result share one check.
type CapabilityProbe struct {
	name   string
	check  func(ctx context.Context) error
	ttl    time.Duration
	logger *logrus.Logger
	now    func() time.Time

	mu        sync.RWMutex
	available bool
	checkedAt time.Time
	checked   bool

	group singleflight.Group
}

// NewCapabilityProbe creates a probe; ttl defaults to one hour
func NewCapabilityProbe(name string, check func(ctx context.Context) error, ttl time.Duration, logger *logrus.Logger) *CapabilityProbe {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CapabilityProbe{name: name, check: check, ttl: ttl, logger: logger, now: time.Now}
}

// Available returns the cached result, running the check when it is missing or stale
func (p *CapabilityProbe) Available(ctx context.Context) bool {
	if ok, fresh := p.cached(); fresh {
		return ok
	}
	v, _, _ := p.group.Do(p.name, func() (interface{}, error) {
		if ok, fresh := p.cached(); fresh {
			return ok, nil
		}
		err := p.check(ctx)
		p.mu.Lock()
		p.available = err == nil
		p.checkedAt = p.now()
		p.checked = true
		p.mu.Unlock()

		fields := logrus.Fields{"capability": p.name, "available": err == nil}
		if err != nil {
			p.logger.WithFields(fields).WithError(err).Info("Capability unavailable")
		} else {
			p.logger.WithFields(fields).Debug("Capability probed")
		}
		return err == nil, nil
	})
	return v.(bool)
}

func (p *CapabilityProbe) cached() (available, fresh bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.checked || p.now().Sub(p.checkedAt) >= p.ttl {
		return false, false
	}
	return p.available, true
}

// Invalidate forces the next call to run the check
func (p *CapabilityProbe) Invalidate() {
	p.mu.Lock()
	p.checked = false
	p.mu.Unlock()
}
