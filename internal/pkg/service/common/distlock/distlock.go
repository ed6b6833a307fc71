// Package distlock provides named mutexes shared by all scheduler processes.
//
// Backends:
//   - etcd: a lock key attached to a session lease, the lease expires when the process dies.
//   - file: an OS file lock, released by the OS when the process dies.
//   - local: an in-process lock, for a single process and tests.
package distlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/servicectx"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// ErrLockTimeout is returned by Mutex.Lock if the lock has not been acquired before the context deadline.
var ErrLockTimeout = errors.New("lock timeout")

type Provider interface {
	NewMutex(name string) Mutex
}

type Mutex interface {
	// Lock waits until the lock is acquired or the context is done.
	Lock(ctx context.Context) error
	// TryLock returns AlreadyLockedError, if the lock is held by someone else.
	TryLock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

type AlreadyLockedError struct {
	Name string
}

func (e AlreadyLockedError) Error() string {
	return fmt.Sprintf(`mutex "%s" is already locked`, e.Name)
}

type NotLockedError struct {
	Name string
}

func (e NotLockedError) Error() string {
	return fmt.Sprintf(`mutex "%s" is not locked`, e.Name)
}

func (e AlreadyLockedError) ErrorType() string {
	return "lock_already_locked"
}

func (e NotLockedError) ErrorType() string {
	return "lock_not_locked"
}

type dependencies interface {
	Clock() clockwork.Clock
	Logger() log.Logger
	Process() *servicectx.Process
	EtcdClient() *etcd.Client
}

// New creates the Provider configured by the Config.Backend.
func New(ctx context.Context, cfg Config, d dependencies) (Provider, error) {
	switch cfg.Backend {
	case BackendEtcd:
		client := d.EtcdClient()
		if client == nil {
			return nil, errors.New("etcd lock backend requires an etcd client")
		}

		// The session lives until the process shutdown
		wg := &sync.WaitGroup{}
		sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		d.Process().OnShutdown(func(_ context.Context) {
			cancel()
			wg.Wait()
		})

		p, err := NewEtcdProvider(sessionCtx, wg, d.Logger(), client, cfg.LeaseDuration)
		if err != nil {
			cancel()
			return nil, err
		}
		return p, nil
	case BackendFile:
		return NewFileProvider(cfg.FileDir)
	case BackendLocal:
		return NewLocalProvider(d.Clock(), cfg.LeaseDuration), nil
	default:
		return nil, errors.Errorf(`unexpected lock backend "%s"`, cfg.Backend)
	}
}

// lockTimeoutError converts the context error to ErrLockTimeout, if the deadline has been exceeded.
func lockTimeoutError(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(ErrLockTimeout, `cannot lock mutex "%s": lock timeout`, name)
	}
	return errors.PrefixErrorf(err, `cannot lock mutex "%s"`, name)
}
