package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keboola/changeset-scheduler/internal/pkg/service/changeset/model"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	var processed []model.ChangeSetID
	h := Func(func(ctx context.Context, v model.ChangeSet) error {
		processed = append(processed, v.ChangeSetID)
		return nil
	})

	r := NewRegistry().Register(model.DirectionExternalToInternal, h)

	found, ok := r.Lookup(model.DirectionExternalToInternal)
	require.True(t, ok)
	require.NoError(t, found.Process(context.Background(), model.ChangeSet{ChangeSetKey: model.ChangeSetKey{ChangeSetID: "cs1"}}))
	assert.Equal(t, []model.ChangeSetID{"cs1"}, processed)

	_, ok = r.Lookup(model.DirectionInternalToExternal)
	assert.False(t, ok)
}
