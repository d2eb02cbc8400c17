package queue

import "time"

// BackoffKind selects the retry delay formula.
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffConfig computes the delay before a failed job's next attempt.
type BackoffConfig struct {
	Kind         BackoffKind
	BaseDelay    time.Duration
	MaxDelay     time.Duration
}

// delay returns the wait before attempt attemptsMade+1: fixed is
// base×attempts_made, exponential is base×2^(attempts_made-1).
func (b BackoffConfig) delay(attemptsMade int) time.Duration {
	if attemptsMade < 1 {
		attemptsMade = 1
	}
	var d time.Duration
	switch b.Kind {
	case BackoffExponential:
		d = b.BaseDelay * time.Duration(1<<uint(attemptsMade-1))
	default:
		d = b.BaseDelay * time.Duration(attemptsMade)
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Config is the per-queue policy: concurrency, retry budget, backoff, and
// the hard per-job execution deadline.
type Config struct {
	Name           string
	Concurrency    int
	MaxAttempts    int
	Backoff        BackoffConfig
	JobTimeout     time.Duration
	PriorityLevels int
}

// QueueNames is the fixed set of queues; each gets a paired DLQ named
// "dlq:<name>".
var QueueNames = []string{
	"attendance", "notifications", "reports", "academic", "examinations", "fees", "default",
}

// DefaultConfigs returns the baseline policy for every fixed queue. Callers
// may override individual entries (e.g. lower concurrency for "fees" in a
// pilot deployment) before constructing a Queue.
func DefaultConfigs() map[string]Config {
	cfgs := make(map[string]Config, len(QueueNames))
	for _, name := range QueueNames {
		cfgs[name] = Config{
			Name:           name,
			Concurrency:    4,
			MaxAttempts:    3,
			Backoff:        BackoffConfig{Kind: BackoffFixed, BaseDelay: 2 * time.Second, MaxDelay: 2 * time.Minute},
			JobTimeout:     30 * time.Second,
			PriorityLevels: 3,
		}
	}
	// fees and notifications carry a stricter SLA than bulk report/academic
	// jobs, so they get exponential backoff to drain faster under partial
	// outages; fees also gets a tighter timeout and notifications more
	// workers.
	if c, ok := cfgs["fees"]; ok {
		c.Backoff = BackoffConfig{Kind: BackoffExponential, BaseDelay: time.Second, MaxDelay: time.Minute}
		c.JobTimeout = 15 * time.Second
		cfgs["fees"] = c
	}
	if c, ok := cfgs["notifications"]; ok {
		c.Concurrency = 8
		c.Backoff = BackoffConfig{Kind: BackoffExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
		cfgs["notifications"] = c
	}
	if c, ok := cfgs["reports"]; ok {
		c.JobTimeout = 2 * time.Minute
		cfgs["reports"] = c
	}
	return cfgs
}

// dlqName returns the paired DLQ name for a queue.
func dlqName(queueName string) string {
	return "dlq:" + queueName
}
