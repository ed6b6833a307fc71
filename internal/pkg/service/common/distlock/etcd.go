package distlock

import (
	"context"
	"math"
	"sync"
	"time"

	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/etcdop"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const etcdLockPrefix = etcdop.Prefix("lock")

// EtcdProvider provides mutexes shared by all processes connected to the etcd cluster.
// All locks are attached to the process session, the session lease expires when the process dies.
//
// The etcd mutex is re-entrant for the same session,
// so mutexes with the same name are additionally serialized within the process by a semaphore.
type EtcdProvider struct {
	lock    *sync.Mutex
	session *concurrency.Session
	local   map[string]chan struct{}
}

type etcdMutex struct {
	provider *EtcdProvider
	name     string
	local    chan struct{}

	lock   *sync.Mutex
	locked *concurrency.Mutex
}

// NewEtcdProvider creates the provider and waits for the first session.
// The session is re-created on failure until the context is done.
func NewEtcdProvider(ctx context.Context, wg *sync.WaitGroup, logger log.Logger, client *etcd.Client, lease time.Duration) (*EtcdProvider, error) {
	p := &EtcdProvider{lock: &sync.Mutex{}, local: make(map[string]chan struct{})}
	ttlSeconds := int(math.Max(1, math.Ceil(lease.Seconds())))
	errCh := etcdop.ResistantSession(ctx, wg, logger.WithComponent("distlock"), client, ttlSeconds, func(session *concurrency.Session) error {
		p.lock.Lock()
		p.session = session
		p.lock.Unlock()
		return nil
	})
	if err := <-errCh; err != nil {
		return nil, errors.PrefixError(err, "cannot create etcd lock provider")
	}
	return p, nil
}

func (p *EtcdProvider) NewMutex(name string) Mutex {
	p.lock.Lock()
	defer p.lock.Unlock()

	local, ok := p.local[name]
	if !ok {
		local = make(chan struct{}, 1)
		p.local[name] = local
	}

	return &etcdMutex{provider: p, name: name, local: local, lock: &sync.Mutex{}}
}

func (p *EtcdProvider) newEtcdMutex(name string) *concurrency.Mutex {
	p.lock.Lock()
	defer p.lock.Unlock()
	return concurrency.NewMutex(p.session, string(etcdLockPrefix.Add(name)))
}

func (m *etcdMutex) TryLock(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	select {
	case m.local <- struct{}{}:
	default:
		return AlreadyLockedError{Name: m.name}
	}

	mtx := m.provider.newEtcdMutex(m.name)
	if err := mtx.TryLock(ctx); err != nil {
		<-m.local
		if errors.Is(err, concurrency.ErrLocked) {
			return AlreadyLockedError{Name: m.name}
		}
		return errors.PrefixErrorf(err, `cannot lock mutex "%s"`, m.name)
	}

	m.locked = mtx
	return nil
}

func (m *etcdMutex) Lock(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.locked != nil {
		return AlreadyLockedError{Name: m.name}
	}

	select {
	case m.local <- struct{}{}:
	case <-ctx.Done():
		return lockTimeoutError(m.name, ctx.Err())
	}

	mtx := m.provider.newEtcdMutex(m.name)
	if err := mtx.Lock(ctx); err != nil {
		<-m.local
		return lockTimeoutError(m.name, err)
	}

	m.locked = mtx
	return nil
}

func (m *etcdMutex) Unlock(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.locked == nil {
		return NotLockedError{Name: m.name}
	}

	mtx := m.locked
	m.locked = nil
	defer func() { <-m.local }()
	if err := mtx.Unlock(ctx); err != nil {
		return errors.PrefixErrorf(err, `cannot unlock mutex "%s"`, m.name)
	}
	return nil
}
