package etcdop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/keboola/changeset-scheduler/internal/pkg/log"
	"github.com/keboola/changeset-scheduler/internal/pkg/utils/etcdhelper"
)

func TestResistantSession(t *testing.T) {
	t.Parallel()

	client := etcdhelper.ClientForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	wg := &sync.WaitGroup{}

	logger := log.NewDebugLogger()
	sessions := 0
	require.NoError(t, <-ResistantSession(ctx, wg, logger, client, 1, func(session *concurrency.Session) error {
		sessions++
		logger.Info(ctx, "----> new session")
		return nil
	}))
	assert.Equal(t, 1, sessions)

	cancel()
	wg.Wait()
	logger.AssertJSONMessages(t, `
{"level":"info","message":"creating etcd session","component":"etcd.session"}
{"level":"info","message":"created etcd session","component":"etcd.session"}
{"level":"info","message":"----> new session"}
{"level":"info","message":"closing etcd session","component":"etcd.session"}
{"level":"info","message":"closed etcd session","component":"etcd.session"}
`)
}
