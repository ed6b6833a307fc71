package distlock

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

const fileLockRetryDelay = 50 * time.Millisecond

// FileProvider provides mutexes shared by all processes on the host.
// The OS releases the lock when the holder process dies.
type FileProvider struct {
	dir string
}

type fileMutex struct {
	name string
	lock *sync.Mutex
	file *flock.Flock
}

func NewFileProvider(dir string) (*FileProvider, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:forbidigo
		return nil, errors.PrefixErrorf(err, `cannot create lock directory "%s"`, dir)
	}
	return &FileProvider{dir: dir}, nil
}

func (p *FileProvider) NewMutex(name string) Mutex {
	// Escaping keeps the file name unique, "a/b" and "a_b" are different locks
	fileName := url.PathEscape(strings.Trim(name, "/")) + ".lock"
	return &fileMutex{
		name: name,
		lock: &sync.Mutex{},
		file: flock.New(filepath.Join(p.dir, fileName)),
	}
}

func (m *fileMutex) TryLock(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.file.Locked() {
		return AlreadyLockedError{Name: m.name}
	}

	ok, err := m.file.TryLock()
	if err != nil {
		return errors.PrefixErrorf(err, `cannot lock mutex "%s"`, m.name)
	}
	if !ok {
		return AlreadyLockedError{Name: m.name}
	}
	return nil
}

func (m *fileMutex) Lock(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.file.Locked() {
		return AlreadyLockedError{Name: m.name}
	}

	ok, err := m.file.TryLockContext(ctx, fileLockRetryDelay)
	if err != nil {
		return lockTimeoutError(m.name, err)
	}
	if !ok {
		return lockTimeoutError(m.name, context.DeadlineExceeded)
	}
	return nil
}

func (m *fileMutex) Unlock(_ context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if !m.file.Locked() {
		return NotLockedError{Name: m.name}
	}
	if err := m.file.Unlock(); err != nil {
		return errors.PrefixErrorf(err, `cannot unlock mutex "%s"`, m.name)
	}
	return nil
}
