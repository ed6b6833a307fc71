// Package servicectx provides unique ID for a service process and support for the graceful shutdown.
package servicectx

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"

	"go.opentelemetry.io/otel/attribute"

	"github.com/keboola/changeset-scheduler/internal/pkg/idgenerator"
	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

type Process struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   log.Logger
	wg       *sync.WaitGroup
	errCh    chan error
	uniqueID string

	lock        *sync.Mutex
	terminating bool
	onShutdown  []OnShutdownFn
}

type Option func(c *config)

// OnShutdownFn is invoked on shutdown, the context is not cancelled yet.
type OnShutdownFn func(ctx context.Context)

type config struct {
	uniqueID string
}

// WithUniqueID sets unique ID of the service process.
// By default, it is generated from the hostname and PID.
func WithUniqueID(v string) Option {
	return func(c *config) {
		c.uniqueID = v
	}
}

func New(ctx context.Context, cancel context.CancelFunc, logger log.Logger, opts ...Option) (*Process, error) {
	c := config{}
	for _, o := range opts {
		o(&c)
	}

	if c.uniqueID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, err
		}
		c.uniqueID = fmt.Sprintf(`%s-%05d`, hostname, os.Getpid())
	}

	// Channel used by both the signal handler and service goroutines
	// to notify the main goroutine when to stop the server.
	errCh := make(chan error)

	// SIGINT and SIGTERM signals cause the services to stop gracefully.
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		errCh <- errors.Errorf("%s", <-sigCh)
	}()

	proc := &Process{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.WithComponent("process"),
		wg:       &sync.WaitGroup{},
		errCh:    errCh,
		uniqueID: c.uniqueID,
		lock:     &sync.Mutex{},
	}

	proc.logger.With(attribute.String("process.uniqueId", proc.uniqueID)).Info(ctx, `process unique id "<process.uniqueId>"`)
	return proc, nil
}

func NewForTest(t *testing.T) *Process {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := New(ctx, cancel, log.NewNopLogger(), WithUniqueID("test_"+idgenerator.TickID()))
	if err != nil {
		t.Fatal(err)
		return nil
	}

	t.Cleanup(func() {
		proc.Shutdown(errors.New("test cleanup"))
		proc.WaitForShutdown()
	})

	return proc
}

// Ctx returns context of the Process.
func (v *Process) Ctx() context.Context {
	return v.ctx
}

// Shutdown triggers termination of the Process.
func (v *Process) Shutdown(err error) {
	go func() {
		v.errCh <- err
	}()
}

// WaitForShutdown blocks until a shutdown request, then invokes OnShutdown callbacks and waits for all operations.
func (v *Process) WaitForShutdown() {
	err := <-v.errCh
	v.logger.Infof(v.ctx, "exiting (%v)", err)

	v.lock.Lock()
	v.terminating = true
	callbacks := v.onShutdown
	v.lock.Unlock()

	// LIFO
	for i := len(callbacks) - 1; i >= 0; i-- {
		callbacks[i](v.ctx)
	}

	v.cancel()
	v.wg.Wait()

	v.logger.Info(context.Background(), "exited")
}

// UniqueID returns unique process ID, it consists of hostname and PID.
func (v *Process) UniqueID() string {
	return v.uniqueID
}

// Add an operation.
// The Process is graceful terminated when all operations are completed.
// The ctx parameter can be used to wait for the service termination.
// The errCh parameter can be used to stop the service with an error.
func (v *Process) Add(operation func(ctx context.Context, errCh chan<- error)) {
	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		operation(v.ctx, v.errCh)
	}()
}

// OnShutdown registers a callback that is invoked when the process is terminating.
// Graceful shutdown waits until the callback has finished.
// Callbacks are invoked sequentially in LIFO order.
func (v *Process) OnShutdown(fn OnShutdownFn) {
	v.lock.Lock()
	defer v.lock.Unlock()
	if v.terminating {
		v.logger.Error(v.ctx, `cannot register OnShutdown callback: the process is terminating`)
		return
	}
	v.onShutdown = append(v.onShutdown, fn)
}
