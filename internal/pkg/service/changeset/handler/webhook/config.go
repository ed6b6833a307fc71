package webhook

import "time"

type Config struct {
	URL           string        `configKey:"url" configUsage:"Webhook URL, the change set is sent as a JSON body of a POST request." validate:"omitempty,url"`
	Timeout       time.Duration `configKey:"timeout" configUsage:"Timeout of one webhook request." validate:"required"`
	RetryCount    int           `configKey:"retryCount" configUsage:"Number of retries of a failed webhook request." validate:"min=0"`
	RetryWaitTime time.Duration `configKey:"retryWaitTime" configUsage:"Initial wait time between retries." validate:"required"`
}

func NewConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryCount:    3,
		RetryWaitTime: 100 * time.Millisecond,
	}
}
