// Package etcdop provides typed etcd operations over one key (Key) or over a prefix (Prefix).
//
// Each operation wraps a raw etcd.Op together with a mapper of the response to the result type,
// so the caller gets a bool, a count or KV pairs instead of the raw response.
package etcdop

import (
	"context"

	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
)

// Op is an etcd operation with a typed result.
type Op[R any] struct {
	op     etcd.Op
	mapper func(r etcd.OpResponse) (R, error)
}

type (
	// BoolOp result is true on success, for example if the transaction condition passed.
	BoolOp = Op[bool]
	// GetOneOp result is one KV pair or nil.
	GetOneOp = Op[*mvccpb.KeyValue]
	// GetManyOp result is zero or multiple KV pairs.
	GetManyOp = Op[[]*mvccpb.KeyValue]
	CountOp   = Op[int64]
)

func newOp[R any](op etcd.Op, mapper func(r etcd.OpResponse) (R, error)) Op[R] {
	return Op[R]{op: op, mapper: mapper}
}

// Op returns the raw operation, for example to compose a transaction.
func (v Op[R]) Op() etcd.Op {
	return v.op
}

// Do executes the operation and maps the response.
func (v Op[R]) Do(ctx context.Context, client etcd.KV) (R, error) {
	r, err := client.Do(ctx, v.op)
	if err != nil {
		var empty R
		return empty, err
	}
	return v.mapper(r)
}

func txnSucceeded(r etcd.OpResponse) (bool, error) {
	return r.Txn().Succeeded, nil
}
