// Package webhook implements a handler which sends the change set to an HTTP endpoint.
package webhook

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const retryWaitTimeMax = 3 * time.Second

type Handler struct {
	logger log.Logger
	url    string
	client *resty.Client
}

type Option func(c *resty.Client)

// WithTransport replaces the HTTP transport, it is used in tests.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *resty.Client) {
		c.SetTransport(transport)
	}
}

func New(logger log.Logger, cfg Config, opts ...Option) *Handler {
	logger = logger.WithComponent("handler.webhook").With(attribute.String("webhook.url", cfg.URL))

	c := resty.New()
	c.SetHeader("User-Agent", "changeset-scheduler")
	c.SetTimeout(cfg.Timeout)
	c.SetRetryCount(cfg.RetryCount)
	c.SetRetryWaitTime(cfg.RetryWaitTime)
	c.SetRetryMaxWaitTime(retryWaitTimeMax)
	c.AddRetryCondition(func(response *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		switch response.StatusCode() {
		case
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	})
	c.AddRetryHook(func(response *resty.Response, err error) {
		ctx := response.Request.Context()
		if err != nil {
			logger.Warnf(ctx, `webhook request failed, retrying: %s`, err)
		} else {
			logger.Warnf(ctx, `webhook request failed with status code %d, retrying`, response.StatusCode())
		}
	})

	for _, o := range opts {
		o(c)
	}

	return &Handler{logger: logger, url: cfg.URL, client: c}
}

func (h *Handler) Process(ctx context.Context, v model.ChangeSet) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(v).
		Post(h.url)
	if err != nil {
		return errors.PrefixErrorf(err, `cannot send change set "%s" to the webhook`, v.ChangeSetKey)
	}
	if !resp.IsSuccess() {
		return errors.Errorf(`cannot send change set "%s" to the webhook: unexpected status code %d`, v.ChangeSetKey, resp.StatusCode())
	}

	h.logger.With(v.Telemetry()...).Debug(ctx, `change set "<changeSet.id>" sent to the webhook`)
	return nil
}
