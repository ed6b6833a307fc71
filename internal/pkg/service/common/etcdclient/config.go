package etcdclient

import (
	"strings"
	"time"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// Config of the etcd client, it is validated only if some component is backed by etcd.
type Config struct {
	Endpoints         []string      `configKey:"endpoints" configUsage:"Etcd endpoints, comma separated."`
	Namespace         string        `configKey:"namespace" configUsage:"Etcd namespace, all keys are prefixed by it."`
	Username          string        `configKey:"username" configUsage:"Etcd username."`
	Password          string        `configKey:"password" configUsage:"Etcd password." sensitive:"true"`
	ConnectTimeout    time.Duration `configKey:"connectTimeout" configUsage:"Etcd connect timeout." validate:"required"`
	KeepAliveTimeout  time.Duration `configKey:"keepAliveTimeout" configUsage:"Etcd keep alive timeout." validate:"required"`
	KeepAliveInterval time.Duration `configKey:"keepAliveInterval" configUsage:"Etcd keep alive interval." validate:"required"`
	MaxReconnectDelay time.Duration `configKey:"maxReconnectDelay" configUsage:"Maximum backoff delay between reconnection attempts." validate:"required"`
}

func NewConfig() Config {
	return Config{
		ConnectTimeout:    30 * time.Second,
		KeepAliveTimeout:  5 * time.Second,
		KeepAliveInterval: 10 * time.Second,
		MaxReconnectDelay: 15 * time.Second,
	}
}

// Normalize trims slashes and spaces, the namespace always ends with a slash.
func (c *Config) Normalize() {
	var endpoints []string
	for _, item := range c.Endpoints {
		for _, endpoint := range strings.Split(item, ",") {
			if endpoint = strings.Trim(endpoint, " /"); endpoint != "" {
				endpoints = append(endpoints, endpoint)
			}
		}
	}
	c.Endpoints = endpoints
	c.Namespace = strings.Trim(c.Namespace, " /") + "/"
}

func (c *Config) Validate() error {
	errs := errors.NewMultiError()
	if len(c.Endpoints) == 0 {
		errs.Append(errors.New("etcd endpoint is not set"))
	}
	if c.Namespace == "/" {
		errs.Append(errors.New("etcd namespace is not set"))
	}
	if c.ConnectTimeout <= 0 || c.KeepAliveTimeout <= 0 || c.KeepAliveInterval <= 0 || c.MaxReconnectDelay <= 0 {
		errs.Append(errors.New("etcd timeouts must be positive"))
	}
	return errs.ErrorOrNil()
}
