// Package etcdclient creates an etcd client prefixed by a namespace, see Config.
package etcdclient

import (
	"context"
	"strings"
	"time"

	etcd "go.etcd.io/etcd/client/v3"
	etcdNamespace "go.etcd.io/etcd/client/v3/namespace"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"         //nolint: depguard
	"go.uber.org/zap/zapcore" //nolint: depguard
	"google.golang.org/grpc"
	"google.golang.org/grpc/backoff"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/servicectx"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// UseNamespace prefixes all keys, watchers and leases of the client.
func UseNamespace(c *etcd.Client, prefix string) {
	c.KV = etcdNamespace.NewKV(c.KV, prefix)
	c.Watcher = etcdNamespace.NewWatcher(c.Watcher, prefix)
	c.Lease = etcdNamespace.NewLease(c.Lease, prefix)
}

// New creates new etcd client.
// The client is closed on the process shutdown.
func New(ctx context.Context, proc *servicectx.Process, tel telemetry.Telemetry, logger log.Logger, cfg Config) (c *etcd.Client, err error) {
	ctx, span := tel.Tracer().Start(ctx, "keboola.go.changeset.etcdclient.New")
	defer span.End(&err)

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger = logger.WithComponent("etcd.client")

	// Route etcd client logs to the service logger, debug messages are skipped
	etcdLogger := zap.New(log.NewCallbackCore(func(entry zapcore.Entry, fields []zapcore.Field) {
		if entry.Level == log.DebugLevel {
			return
		}
		attrs := []attribute.KeyValue{attribute.String("etcd.logger", entry.LoggerName)}
		for _, f := range fields {
			if f.Type == zapcore.StringType {
				attrs = append(attrs, attribute.String("etcd."+f.Key, f.String))
			}
		}
		logger.With(attrs...).Log(context.Background(), entry.Level.String(), entry.Message)
	}))

	connectCtx, connectCancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer connectCancel()

	startTime := time.Now()
	logger.Infof(ctx, "connecting to etcd, connectTimeout=%s, keepAliveTimeout=%s, keepAliveInterval=%s", cfg.ConnectTimeout, cfg.KeepAliveTimeout, cfg.KeepAliveInterval)
	c, err = etcd.New(etcd.Config{
		Context:              context.Background(), // !!! a long-lived context must be used, client exists as long as the entire process
		Endpoints:            cfg.Endpoints,
		DialTimeout:          cfg.ConnectTimeout,
		DialKeepAliveTimeout: cfg.KeepAliveTimeout,
		DialKeepAliveTime:    cfg.KeepAliveInterval,
		Username:             cfg.Username, // optional
		Password:             cfg.Password, // optional
		Logger:               etcdLogger,
		PermitWithoutStream:  true, // always send keep-alive pings
		DialOptions: []grpc.DialOption{
			grpc.WithConnectParams(grpc.ConnectParams{
				Backoff: backoff.Config{
					BaseDelay:  100 * time.Millisecond,
					Multiplier: 1.5,
					Jitter:     0.2,
					MaxDelay:   cfg.MaxReconnectDelay,
				},
			}),
		},
	})
	if err != nil {
		return nil, errors.PrefixError(err, "cannot create etcd client: cannot connect")
	}

	UseNamespace(c, cfg.Namespace)

	// Connection check
	if _, err := c.MemberList(connectCtx); err != nil {
		_ = c.Close()
		return nil, errors.PrefixError(err, "cannot create etcd client: cannot get cluster members")
	}

	proc.OnShutdown(func(ctx context.Context) {
		startTime := time.Now()
		logger.Info(ctx, "closing etcd connection")
		if err := c.Close(); err != nil {
			logger.Warnf(ctx, "cannot close etcd connection: %s", err)
		} else {
			logger.WithDuration(time.Since(startTime)).Info(ctx, "closed etcd connection")
		}
	})

	logger.WithDuration(time.Since(startTime)).Infof(ctx, `connected to etcd cluster "%s"`, strings.Join(c.Endpoints(), ";"))
	return c, nil
}
