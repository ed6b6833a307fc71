package scheduler

import "time"

type Config struct {
	Enabled             bool          `configKey:"enabled" configUsage:"Enable the scheduler loop."`
	Interval            time.Duration `configKey:"interval" configUsage:"Interval between scheduler ticks." validate:"required,min=1s,max=1h"`
	MaxRunningPerTenant int           `configKey:"maxRunningPerTenant" configUsage:"Maximum number of running change sets per tenant." validate:"required,min=1"`
	LockWaitTimeout     time.Duration `configKey:"lockWaitTimeout" configUsage:"How long the claimer waits for the tenant lock." validate:"required,min=10ms"`
	ReaperInterval      time.Duration `configKey:"reaperInterval" configUsage:"Minimal interval between reaper runs in one process." validate:"required"`
	MaxQueueDuration    time.Duration `configKey:"maxQueueDuration" configUsage:"Queued change set older than the duration is skipped." validate:"required,min=1m"`
	StuckRunningTimeout time.Duration `configKey:"stuckRunningTimeout" configUsage:"Running change set not updated for the duration is considered stuck." validate:"required,min=1m"`
	MaxRetries          int           `configKey:"maxRetries" configUsage:"Stuck change set is skipped when the retry count exceeds the limit." validate:"min=0"`
	DispatchConcurrency int           `configKey:"dispatchConcurrency" configUsage:"How many claimed change sets are processed in parallel." validate:"required,min=1,max=100"`
	ReaperConcurrency   int           `configKey:"reaperConcurrency" configUsage:"How many tenants are processed by the reaper in parallel." validate:"required,min=1,max=100"`
}

func NewConfig() Config {
	return Config{
		Enabled:             true,
		Interval:            10 * time.Second,
		MaxRunningPerTenant: 5,
		LockWaitTimeout:     2 * time.Minute,
		ReaperInterval:      30 * time.Minute,
		MaxQueueDuration:    72 * time.Hour,
		StuckRunningTimeout: 90 * time.Minute,
		MaxRetries:          3,
		DispatchConcurrency: 1,
		ReaperConcurrency:   10,
	}
}
