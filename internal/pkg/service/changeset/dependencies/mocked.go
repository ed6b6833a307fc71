package dependencies

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/config"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/handler"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository/repotest"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/repository/sqliterepo"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/distlock"
	"github.com/keboola/changeset-scheduler/internal/pkg/service/common/servicectx"
	"github.com/keboola/changeset-scheduler/internal/pkg/telemetry"
)

// Mocked dependencies for tests. By default, a SQLite repository in a temp dir,
// the local lock provider and a fake clock set to repotest.Now are used.
type Mocked interface {
	ServiceScope
	TestContext() context.Context
	TestConfig() config.Config
	MockedClock() *clockwork.FakeClock
	DebugLogger() log.DebugLogger
	TestTelemetry() telemetry.ForTest
}

type MockedOption func(c *mockedConfig)

type mockedConfig struct {
	clock      *clockwork.FakeClock
	process    *servicectx.Process
	repository repository.Repository
	locks      distlock.Provider
	handlers   map[model.Direction]handler.Handler
	config     func(cfg *config.Config)
}

// mocked implements Mocked interface.
type mocked struct {
	*serviceScope
	ctx         context.Context
	config      config.Config
	clock       *clockwork.FakeClock
	debugLogger log.DebugLogger
	telemetry   telemetry.ForTest
}

// WithClock sets the fake clock, for example to share it by several mocked scopes.
func WithClock(v *clockwork.FakeClock) MockedOption {
	return func(c *mockedConfig) {
		c.clock = v
	}
}

// WithProcess sets the process, for example to shut down the scope in the test.
func WithProcess(v *servicectx.Process) MockedOption {
	return func(c *mockedConfig) {
		c.process = v
	}
}

// WithRepository sets the repository, for example to share it by several mocked scopes.
func WithRepository(v repository.Repository) MockedOption {
	return func(c *mockedConfig) {
		c.repository = v
	}
}

// WithLockProvider sets the lock provider, for example to share it by several mocked scopes.
func WithLockProvider(v distlock.Provider) MockedOption {
	return func(c *mockedConfig) {
		c.locks = v
	}
}

func WithHandler(direction model.Direction, h handler.Handler) MockedOption {
	return func(c *mockedConfig) {
		c.handlers[direction] = h
	}
}

func WithConfig(fn func(cfg *config.Config)) MockedOption {
	return func(c *mockedConfig) {
		c.config = fn
	}
}

func NewMockedServiceScope(t *testing.T, opts ...MockedOption) (ServiceScope, Mocked) {
	t.Helper()

	c := mockedConfig{handlers: make(map[model.Direction]handler.Handler)}
	for _, o := range opts {
		o(&c)
	}

	cfg := config.New()
	if c.config != nil {
		c.config(&cfg)
	}

	if c.clock == nil {
		c.clock = clockwork.NewFakeClockAt(repotest.Now)
	}
	if c.process == nil {
		c.process = servicectx.NewForTest(t)
	}
	if c.repository == nil {
		c.repository = sqliterepo.OpenForTest(t)
	}
	if c.locks == nil {
		c.locks = distlock.NewLocalProvider(c.clock, cfg.Lock.LeaseDuration)
	}

	handlers := handler.NewRegistry()
	for direction, h := range c.handlers {
		handlers.Register(direction, h)
	}

	debugLogger := log.NewDebugLogger()
	tel := telemetry.NewForTest(t)

	return newMocked(t, cfg, c, debugLogger, tel, handlers)
}

func newMocked(t *testing.T, cfg config.Config, c mockedConfig, debugLogger log.DebugLogger, tel telemetry.ForTest, handlers *handler.Registry) (ServiceScope, Mocked) {
	t.Helper()

	m := &mocked{
		serviceScope: &serviceScope{
			clock:      c.clock,
			logger:     debugLogger,
			telemetry:  tel,
			process:    c.process,
			repository: c.repository,
			locks:      c.locks,
			handlers:   handlers,
		},
		ctx:         context.Background(),
		config:      cfg,
		clock:       c.clock,
		debugLogger: debugLogger,
		telemetry:   tel,
	}

	debugLogger.Truncate()
	return m, m
}

func (v *mocked) TestContext() context.Context {
	return v.ctx
}

func (v *mocked) TestConfig() config.Config {
	return v.config
}

func (v *mocked) MockedClock() *clockwork.FakeClock {
	return v.clock
}

func (v *mocked) DebugLogger() log.DebugLogger {
	return v.debugLogger
}

func (v *mocked) TestTelemetry() telemetry.ForTest {
	return v.telemetry
}
