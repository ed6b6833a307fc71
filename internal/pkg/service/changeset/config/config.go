// Package config provides the configuration of the change set scheduler service.
package config

import (
	"context"
	"strings"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler/webhook"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/scheduler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/configmap"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/etcdclient"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
	"github.com/keboola/changeset-scheduler/internal/pkg/validator"
)

const (
	AppName   = "changeset-scheduler"
	EnvPrefix = "CHANGESET_SCHEDULER_"

	StoreBackendSQLite = "sqlite"
	StoreBackendEtcd   = "etcd"
)

// Config of the change set scheduler service.
type Config struct {
	DebugLog  bool              `configKey:"debugLog" configUsage:"Enable logging at DEBUG level."`
	LogFormat string            `configKey:"logFormat" configUsage:"Log format: json or console." validate:"required,oneof=json console"`
	Metrics   Metrics           `configKey:"metrics"`
	Etcd      etcdclient.Config `configKey:"etcd"`
	Store     Store             `configKey:"store"`
	Lock      distlock.Config   `configKey:"lock"`
	Scheduler scheduler.Config  `configKey:"scheduler"`
	Handlers  Handlers          `configKey:"handlers"`
}

type Metrics struct {
	Listen string `configKey:"listen" configUsage:"Prometheus scraping metrics listen address, empty disables the endpoint."`
}

type Store struct {
	Backend    string `configKey:"backend" configUsage:"Change set store: sqlite or etcd." validate:"required,oneof=sqlite etcd"`
	SQLitePath string `configKey:"sqlitePath" configUsage:"Path to the SQLite database file." validate:"required_if=Backend sqlite"`
}

// Handlers configures a webhook for each direction, a direction without URL has no handler.
type Handlers struct {
	ExternalToInternal webhook.Config `configKey:"externalToInternal"`
	InternalToExternal webhook.Config `configKey:"internalToExternal"`
}

func New() Config {
	return Config{
		LogFormat: "json",
		Metrics:   Metrics{Listen: "0.0.0.0:9000"},
		Etcd:      etcdclient.NewConfig(),
		Store: Store{
			Backend:    StoreBackendSQLite,
			SQLitePath: "changesets.db",
		},
		Lock:      distlock.NewConfig(),
		Scheduler: scheduler.NewConfig(),
		Handlers: Handlers{
			ExternalToInternal: webhook.NewConfig(),
			InternalToExternal: webhook.NewConfig(),
		},
	}
}

// Bind loads the configuration from flags, ENVs and an optional config file.
// The --help flag returns configmap.HelpError, which wraps pflag.ErrHelp.
func Bind(args []string, envs configmap.EnvLookupFn) (Config, error) {
	cfg := New()
	err := configmap.Bind(configmap.BindSpec{
		AppName:   AppName,
		Args:      args,
		EnvPrefix: EnvPrefix,
		Envs:      envs,
	}, &cfg)
	return cfg, err
}

// UsesEtcd returns true if the store or the lock is backed by etcd.
func (c *Config) UsesEtcd() bool {
	return c.Store.Backend == StoreBackendEtcd || c.Lock.Backend == distlock.BackendEtcd
}

func (c *Config) Normalize() {
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	c.Lock.Backend = strings.ToLower(strings.TrimSpace(c.Lock.Backend))
	if c.UsesEtcd() {
		c.Etcd.Normalize()
	}
}

func (c *Config) Validate() error {
	errs := errors.NewMultiError()
	if err := validator.New().Validate(context.Background(), c); err != nil {
		errs.Append(err)
	}
	if c.UsesEtcd() {
		if err := c.Etcd.Validate(); err != nil {
			errs.Append(err)
		}
	}
	return errs.ErrorOrNil()
}
