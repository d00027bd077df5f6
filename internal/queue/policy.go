package queue

import (
	"time"

	"github.com/vin-jex/relay-gateway/internal/config"
)

const (
	WorkflowQueue = "workflow"
	WebhookQueue  = "webhook"
	ProofQueue    = "proof"
)

// BackoffFunc returns the delay before the attempt after the given one.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles base for every failed attempt: base, 2*base,
// 4*base...
func ExponentialBackoff(base time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		if attempt > 20 {
			attempt = 20
		}
		return base * time.Duration(1<<(attempt-1))
	}
}

// FixedBackoff indexes delays by attempt number, reusing the last entry
// once the table runs out.
func FixedBackoff(delays ...time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if len(delays) == 0 {
			return 0
		}

		index := attempt - 1
		if index < 0 {
			index = 0
		}
		if index >= len(delays) {
			index = len(delays) - 1
		}

		return delays[index]
	}
}

type Policy struct {
	Name        string
	MaxAttempts int
	Backoff     BackoffFunc
	// StallTimeout is the claim lease. A claim not extended or reported
	// within it is recovered as a failed attempt.
	StallTimeout time.Duration
	JobTimeout   time.Duration
	// MaxWaiting bounds waiting jobs; zero means unbounded.
	MaxWaiting  int
	Concurrency int
}

func WorkflowPolicy() Policy {
	return Policy{
		Name:         WorkflowQueue,
		MaxAttempts:  3,
		Backoff:      ExponentialBackoff(time.Second),
		StallTimeout: 30 * time.Second,
		JobTimeout:   2 * time.Minute,
		Concurrency:  4,
	}
}

func WebhookPolicy() Policy {
	return Policy{
		Name:         WebhookQueue,
		MaxAttempts:  3,
		Backoff:      FixedBackoff(time.Minute, 5*time.Minute, 30*time.Minute),
		StallTimeout: 30 * time.Second,
		JobTimeout:   15 * time.Second,
		Concurrency:  8,
	}
}

func ProofPolicy() Policy {
	return Policy{
		Name:         ProofQueue,
		MaxAttempts:  2,
		Backoff:      ExponentialBackoff(5 * time.Second),
		StallTimeout: 60 * time.Second,
		JobTimeout:   300 * time.Second,
		MaxWaiting:   100,
		Concurrency:  1,
	}
}

// Policies returns the three built-in policies with overrides from cfg
// applied.
func Policies(cfg map[string]config.QueueConfig) map[string]Policy {
	policies := map[string]Policy{
		WorkflowQueue: WorkflowPolicy(),
		WebhookQueue:  WebhookPolicy(),
		ProofQueue:    ProofPolicy(),
	}

	for name, policy := range policies {
		if override, ok := cfg[name]; ok {
			policies[name] = policy.WithOverrides(override)
		}
	}

	return policies
}

func (p Policy) WithOverrides(override config.QueueConfig) Policy {
	if override.MaxAttempts > 0 {
		p.MaxAttempts = override.MaxAttempts
	}
	if len(override.Delays) > 0 {
		p.Backoff = FixedBackoff(override.Delays...)
	} else if override.BaseDelay > 0 {
		p.Backoff = ExponentialBackoff(override.BaseDelay)
	}
	if override.StallTimeout > 0 {
		p.StallTimeout = override.StallTimeout
	}
	if override.JobTimeout > 0 {
		p.JobTimeout = override.JobTimeout
	}
	if override.MaxWaiting > 0 {
		p.MaxWaiting = override.MaxWaiting
	}
	if override.Concurrency > 0 {
		p.Concurrency = override.Concurrency
	}

	return p
}
