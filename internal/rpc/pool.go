// Package rpc routes upstream blockchain RPC calls across an ordered set of
// provider endpoints, demoting endpoints that keep failing and retrying calls
// with linear backoff.
package rpc

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrNoEndpoints = errors.New("rpc: provider pool has no endpoints")

// Endpoint is one upstream address in the pool. Health fields are only
// mutated by the owning Pool under its lock.
type Endpoint struct {
	Name    string
	Address string

	healthy             bool
	consecutiveFailures int
	unhealthySince      *time.Time
}

// EndpointStatus is a point-in-time copy of an endpoint's health.
type EndpointStatus struct {
	Name                string     `json:"name"`
	Address             string     `json:"address"`
	Healthy             bool       `json:"healthy"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	UnhealthySince      *time.Time `json:"unhealthy_since,omitempty"`
}

type PoolOptions struct {
	FailureThreshold int
	Cooldown         time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
}

// Pool is the shared health registry for an ordered list of endpoints.
// The first endpoint is the primary; the rest are fallbacks in preference
// order. A Pool is safe for concurrent use.
type Pool struct {
	mu        sync.Mutex
	endpoints []*Endpoint

	failureThreshold int
	cooldown         time.Duration
	now              func() time.Time
	logger           *slog.Logger
}

func NewPool(endpoints []Endpoint, options PoolOptions) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	if options.FailureThreshold <= 0 {
		options.FailureThreshold = 2
	}
	if options.Cooldown <= 0 {
		options.Cooldown = 60 * time.Second
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	pool := &Pool{
		endpoints:        make([]*Endpoint, 0, len(endpoints)),
		failureThreshold: options.FailureThreshold,
		cooldown:         options.Cooldown,
		now:              options.Now,
		logger:           options.Logger,
	}

	for _, endpoint := range endpoints {
		pool.endpoints = append(pool.endpoints, &Endpoint{
			Name:    endpoint.Name,
			Address: endpoint.Address,
			healthy: true,
		})
	}

	return pool, nil
}

// SelectEndpoint returns the first healthy endpoint in preference order.
// Endpoints whose cooldown has elapsed are restored first. When every
// endpoint is unhealthy the primary is reset and returned, so selection
// never locks out all traffic.
func (p *Pool) SelectEndpoint() EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()

	for _, endpoint := range p.endpoints {
		if !endpoint.healthy && endpoint.unhealthySince != nil &&
			now.Sub(*endpoint.unhealthySince) >= p.cooldown {
			p.restoreLocked(endpoint, "cooldown elapsed")
		}
	}

	for _, endpoint := range p.endpoints {
		if endpoint.healthy {
			return endpoint.status()
		}
	}

	primary := p.endpoints[0]
	p.restoreLocked(primary, "all endpoints unhealthy")

	return primary.status()
}

// ReportSuccess clears the failure streak of the named endpoint.
func (p *Pool) ReportSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	endpoint := p.lookupLocked(name)
	if endpoint == nil {
		return
	}

	endpoint.consecutiveFailures = 0
}

// ReportFailure records a failed call. Reaching the failure threshold marks
// the endpoint unhealthy until the cooldown elapses.
func (p *Pool) ReportFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	endpoint := p.lookupLocked(name)
	if endpoint == nil {
		return
	}

	endpoint.consecutiveFailures++

	if endpoint.healthy && endpoint.consecutiveFailures >= p.failureThreshold {
		now := p.now()
		endpoint.healthy = false
		endpoint.unhealthySince = &now

		p.logger.Warn("rpc endpoint marked unhealthy",
			"endpoint", endpoint.Name,
			"consecutive_failures", endpoint.consecutiveFailures,
			"cooldown", p.cooldown.String())
	}
}

// Snapshot returns the health of every endpoint in preference order.
func (p *Pool) Snapshot() []EndpointStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]EndpointStatus, 0, len(p.endpoints))
	for _, endpoint := range p.endpoints {
		statuses = append(statuses, endpoint.status())
	}

	return statuses
}

func (p *Pool) restoreLocked(endpoint *Endpoint, reason string) {
	endpoint.healthy = true
	endpoint.consecutiveFailures = 0
	endpoint.unhealthySince = nil

	p.logger.Info("rpc endpoint restored", "endpoint", endpoint.Name, "reason", reason)
}

func (p *Pool) lookupLocked(name string) *Endpoint {
	for _, endpoint := range p.endpoints {
		if endpoint.Name == name {
			return endpoint
		}
	}

	return nil
}

func (e *Endpoint) status() EndpointStatus {
	status := EndpointStatus{
		Name:                e.Name,
		Address:             e.Address,
		Healthy:             e.healthy,
		ConsecutiveFailures: e.consecutiveFailures,
	}

	if e.unhealthySince != nil {
		since := *e.unhealthySince
		status.UnhealthySince = &since
	}

	return status
}
