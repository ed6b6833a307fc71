package etcdop

import (
	"strings"

	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
)

// Prefix represents an etcd keys prefix - multiple keys prefix, not a one key.
type Prefix string

func NewPrefix(v string) Prefix {
	return Prefix(strings.Trim(v, "/"))
}

func (v Prefix) Prefix() string {
	return string(v) + "/"
}

func (v Prefix) Add(str string) Prefix {
	return Prefix(v.Prefix() + str)
}

func (v Prefix) Key(key string) Key {
	return Key(v.Prefix() + key)
}

func (v Prefix) AtLeastOneExists(opts ...etcd.OpOption) BoolOp {
	opts = append([]etcd.OpOption{etcd.WithPrefix(), etcd.WithCountOnly()}, opts...)
	return newOp(
		etcd.OpGet(v.Prefix(), opts...),
		func(r etcd.OpResponse) (bool, error) {
			return r.Get().Count > 0, nil
		},
	)
}

func (v Prefix) Count(opts ...etcd.OpOption) CountOp {
	opts = append([]etcd.OpOption{etcd.WithCountOnly(), etcd.WithPrefix()}, opts...)
	return newOp(
		etcd.OpGet(v.Prefix(), opts...),
		func(r etcd.OpResponse) (int64, error) {
			return r.Get().Count, nil
		},
	)
}

func (v Prefix) GetAll(opts ...etcd.OpOption) GetManyOp {
	opts = append([]etcd.OpOption{etcd.WithPrefix(), etcd.WithSort(etcd.SortByKey, etcd.SortAscend)}, opts...)
	return newOp(
		etcd.OpGet(v.Prefix(), opts...),
		func(r etcd.OpResponse) ([]*mvccpb.KeyValue, error) {
			return r.Get().Kvs, nil
		},
	)
}

// Keys returns all keys in the prefix, without values.
func (v Prefix) Keys(opts ...etcd.OpOption) GetManyOp {
	return v.GetAll(append([]etcd.OpOption{etcd.WithKeysOnly()}, opts...)...)
}

func (v Prefix) DeleteAll(opts ...etcd.OpOption) CountOp {
	opts = append([]etcd.OpOption{etcd.WithPrefix()}, opts...)
	return newOp(
		etcd.OpDelete(v.Prefix(), opts...),
		func(r etcd.OpResponse) (int64, error) {
			return r.Del().Deleted, nil
		},
	)
}
