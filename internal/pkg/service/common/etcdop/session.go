package etcdop

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	etcd "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
)

// OnSessionFn is called for each created session, it must not block.
type OnSessionFn func(session *concurrency.Session) error

// ResistantSession keeps an etcd session alive until the context is cancelled.
// An expired session, for example after a network outage, is replaced by a new one, with a backoff.
//
// The returned channel is closed after the first session is created and the first OnSessionFn call succeeds,
// or it receives the error of the first attempt. Later errors are only logged.
func ResistantSession(ctx context.Context, wg *sync.WaitGroup, logger log.Logger, client *etcd.Client, ttlSeconds int, onSession OnSessionFn) <-chan error {
	s := &resistantSession{
		client:     client,
		logger:     logger.WithComponent("etcd.session"),
		ttlSeconds: ttlSeconds,
		onSession:  onSession,
		backoff:    newSessionBackoff(),
	}

	initDone := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.run(ctx, initDone)
	}()
	return initDone
}

type resistantSession struct {
	client     *etcd.Client
	logger     log.Logger
	ttlSeconds int
	onSession  OnSessionFn
	backoff    *backoff.ExponentialBackOff
}

func (s *resistantSession) run(ctx context.Context, initDone chan error) {
	s.logger.Info(ctx, "creating etcd session")

	// The first attempt reports the result, then the session is re-created after each failure
	session, err := s.create(ctx, true)
	if err != nil {
		initDone <- err
		close(initDone)
		return
	}
	close(initDone)

	for {
		select {
		case <-ctx.Done():
			s.close(ctx, session)
			return
		case <-session.Done():
		}

		for {
			delay := s.backoff.NextBackOff()
			s.logger.Infof(ctx, "re-creating etcd session, backoff delay %s", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			if session, err = s.create(ctx, false); err == nil {
				break
			}
			s.logger.Errorf(ctx, "cannot create etcd session: %s", err)
		}
	}
}

func (s *resistantSession) create(ctx context.Context, first bool) (*concurrency.Session, error) {
	startTime := time.Now()
	session, err := concurrency.NewSession(s.client, concurrency.WithTTL(s.ttlSeconds))
	if err != nil {
		return nil, err
	}

	// Wait for the first keep-alive, so the lease is confirmed before the session is used
	if first {
		if _, err := session.Client().KeepAliveOnce(ctx, session.Lease()); err != nil {
			_ = session.Close()
			return nil, err
		}
	}

	s.backoff.Reset()
	s.logger.WithDuration(time.Since(startTime)).Info(ctx, "created etcd session")

	if err := s.onSession(session); err != nil {
		if first {
			_ = session.Close()
			return nil, err
		}
		s.logger.Errorf(ctx, "etcd session callback failed: %s", err)
	}

	return session, nil
}

func (s *resistantSession) close(ctx context.Context, session *concurrency.Session) {
	startTime := time.Now()
	s.logger.Info(ctx, "closing etcd session")
	if err := session.Close(); err != nil {
		s.logger.Warnf(ctx, "cannot close etcd session: %s", err)
		return
	}
	s.logger.WithDuration(time.Since(startTime)).Info(ctx, "closed etcd session")
}

func newSessionBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.RandomizationFactor = 0.2
	b.InitialInterval = 50 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = time.Minute
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
