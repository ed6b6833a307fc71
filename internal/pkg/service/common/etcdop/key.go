package etcdop

import (
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/keboola/changeset-scheduler/internal/pkg/utils/errors"
)

// Key represents an etcd key - one key, not a prefix.
type Key string

func (v Key) Key() string {
	return string(v)
}

func (v Key) Get(opts ...etcd.OpOption) GetOneOp {
	return newOp(
		etcd.OpGet(v.Key(), opts...),
		func(r etcd.OpResponse) (*mvccpb.KeyValue, error) {
			count := r.Get().Count
			switch count {
			case 0:
				return nil, nil
			case 1:
				return r.Get().Kvs[0], nil
			default:
				return nil, errors.Errorf(`etcd get: at most one result result expected, found %d results`, count)
			}
		},
	)
}

func (v Key) Exists(opts ...etcd.OpOption) BoolOp {
	opts = append([]etcd.OpOption{etcd.WithCountOnly()}, opts...)
	return newOp(
		etcd.OpGet(v.Key(), opts...),
		func(r etcd.OpResponse) (bool, error) {
			count := r.Get().Count
			switch count {
			case 0:
				return false, nil
			case 1:
				return true, nil
			default:
				return false, errors.Errorf(`etcd exists: at most one result result expected, found %d results`, count)
			}
		},
	)
}

// Put result is the revision of the modification.
func (v Key) Put(val string, opts ...etcd.OpOption) Op[int64] {
	return newOp(
		etcd.OpPut(v.Key(), val, opts...),
		func(r etcd.OpResponse) (int64, error) {
			return r.Put().Header.GetRevision(), nil
		},
	)
}

func (v Key) PutIfNotExists(val string, opts ...etcd.OpOption) BoolOp {
	return newOp(
		etcd.OpTxn(
			[]etcd.Cmp{etcd.Compare(etcd.Version(v.Key()), "=", 0)},
			[]etcd.Op{etcd.OpPut(v.Key(), val, opts...)},
			nil,
		),
		txnSucceeded,
	)
}

func (v Key) DeleteIfExists(opts ...etcd.OpOption) BoolOp {
	return newOp(
		etcd.OpTxn(
			[]etcd.Cmp{etcd.Compare(etcd.Version(v.Key()), "!=", 0)},
			[]etcd.Op{etcd.OpDelete(v.Key(), opts...)},
			nil,
		),
		txnSucceeded,
	)
}

// MoveIfUnchanged deletes the key and puts the value to the target key,
// only if the key has not been modified since the modRevision.
func (v Key) MoveIfUnchanged(modRevision int64, target Key, val string) BoolOp {
	return newOp(
		etcd.OpTxn(
			[]etcd.Cmp{etcd.Compare(etcd.ModRevision(v.Key()), "=", modRevision)},
			[]etcd.Op{etcd.OpDelete(v.Key()), etcd.OpPut(target.Key(), val)},
			nil,
		),
		txnSucceeded,
	)
}
