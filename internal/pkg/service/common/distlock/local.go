package distlock

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LocalProvider provides mutexes shared only within the process.
// A lock expires after the lease duration, so it behaves as a lock of a crashed holder.
type LocalProvider struct {
	clock clockwork.Clock
	lease time.Duration

	lock  *sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	owner     *localMutex
	expiresAt time.Time
	released  chan struct{}
}

type localMutex struct {
	provider *LocalProvider
	name     string
}

func NewLocalProvider(clock clockwork.Clock, lease time.Duration) *LocalProvider {
	return &LocalProvider{
		clock: clock,
		lease: lease,
		lock:  &sync.Mutex{},
		locks: make(map[string]*localLock),
	}
}

func (p *LocalProvider) NewMutex(name string) Mutex {
	return &localMutex{provider: p, name: name}
}

func (m *localMutex) TryLock(_ context.Context) error {
	if _, ok := m.tryLock(); !ok {
		return AlreadyLockedError{Name: m.name}
	}
	return nil
}

func (m *localMutex) Lock(ctx context.Context) error {
	for {
		current, ok := m.tryLock()
		if ok {
			return nil
		} else if current.owner == m {
			return AlreadyLockedError{Name: m.name}
		}

		select {
		case <-ctx.Done():
			return lockTimeoutError(m.name, ctx.Err())
		case <-current.released:
		case <-m.provider.clock.After(current.expiresAt.Sub(m.provider.clock.Now())):
		}
	}
}

func (m *localMutex) Unlock(_ context.Context) error {
	p := m.provider
	p.lock.Lock()
	defer p.lock.Unlock()

	current, found := p.locks[m.name]
	if !found || current.owner != m || !p.clock.Now().Before(current.expiresAt) {
		return NotLockedError{Name: m.name}
	}

	delete(p.locks, m.name)
	close(current.released)
	return nil
}

// tryLock returns the current lock if the mutex cannot be locked.
func (m *localMutex) tryLock() (*localLock, bool) {
	p := m.provider
	p.lock.Lock()
	defer p.lock.Unlock()

	now := p.clock.Now()
	if current, found := p.locks[m.name]; found {
		if now.Before(current.expiresAt) {
			return current, false
		}
		// Lease expired
		close(current.released)
	}

	p.locks[m.name] = &localLock{owner: m, expiresAt: now.Add(p.lease), released: make(chan struct{})}
	return nil, true
}
