// Package dependencies provides dependencies of the change set scheduler service.
//
// The ServiceScope lives as long as the process, all parts are created by NewServiceScope
// according to the configuration, and closed on the process shutdown.
package dependencies

import (
	"context"

	"github.com/jonboulle/clockwork"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/config"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler/webhook"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository/etcdrepo"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository/sqliterepo"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/etcdclient"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/servicectx"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

type ServiceScope interface {
	Clock() clockwork.Clock
	Logger() log.Logger
	Telemetry() telemetry.Telemetry
	Process() *servicectx.Process
	// EtcdClient is nil, if neither the store nor the lock uses etcd.
	EtcdClient() *etcd.Client
	ChangeSetRepository() repository.Repository
	DistributedLockProvider() distlock.Provider
	HandlerRegistry() *handler.Registry
}

// serviceScope implements ServiceScope interface.
type serviceScope struct {
	clock      clockwork.Clock
	logger     log.Logger
	telemetry  telemetry.Telemetry
	process    *servicectx.Process
	etcdClient *etcd.Client
	repository repository.Repository
	locks      distlock.Provider
	handlers   *handler.Registry
}

func NewServiceScope(
	ctx context.Context,
	cfg config.Config,
	proc *servicectx.Process,
	logger log.Logger,
	tel telemetry.Telemetry,
) (v ServiceScope, err error) {
	ctx, span := tel.Tracer().Start(ctx, "keboola.go.changeset.dependencies.NewServiceScope")
	defer span.End(&err)

	d := &serviceScope{
		clock:     clockwork.NewRealClock(),
		logger:    logger,
		telemetry: tel,
		process:   proc,
	}

	if cfg.UsesEtcd() {
		if d.etcdClient, err = etcdclient.New(ctx, proc, tel, logger, cfg.Etcd); err != nil {
			return nil, err
		}
	}

	if d.repository, err = newRepository(ctx, d, cfg.Store); err != nil {
		return nil, err
	}

	if d.locks, err = distlock.New(ctx, cfg.Lock, d); err != nil {
		return nil, err
	}

	d.handlers = newHandlerRegistry(logger, cfg.Handlers)
	return d, nil
}

func newRepository(ctx context.Context, d *serviceScope, cfg config.Store) (repository.Repository, error) {
	switch cfg.Backend {
	case config.StoreBackendEtcd:
		return etcdrepo.New(d.etcdClient), nil
	case config.StoreBackendSQLite:
		repo, err := sqliterepo.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.process.OnShutdown(func(ctx context.Context) {
			if err := repo.Close(); err != nil {
				d.logger.Errorf(ctx, "cannot close SQLite database: %s", err)
			}
		})
		return repo, nil
	default:
		return nil, errors.Errorf(`unexpected store backend "%s"`, cfg.Backend)
	}
}

func newHandlerRegistry(logger log.Logger, cfg config.Handlers) *handler.Registry {
	r := handler.NewRegistry()
	if cfg.ExternalToInternal.URL != "" {
		r.Register(model.DirectionExternalToInternal, webhook.New(logger, cfg.ExternalToInternal))
	}
	if cfg.InternalToExternal.URL != "" {
		r.Register(model.DirectionInternalToExternal, webhook.New(logger, cfg.InternalToExternal))
	}
	return r
}

func (v *serviceScope) Clock() clockwork.Clock {
	return v.clock
}

func (v *serviceScope) Logger() log.Logger {
	return v.logger
}

func (v *serviceScope) Telemetry() telemetry.Telemetry {
	return v.telemetry
}

func (v *serviceScope) Process() *servicectx.Process {
	return v.process
}

func (v *serviceScope) EtcdClient() *etcd.Client {
	return v.etcdClient
}

func (v *serviceScope) ChangeSetRepository() repository.Repository {
	return v.repository
}

func (v *serviceScope) DistributedLockProvider() distlock.Provider {
	return v.locks
}

func (v *serviceScope) HandlerRegistry() *handler.Registry {
	return v.handlers
}
