// Package etcd stores the head record under one etcd key. Updates are
// guarded by a transaction comparing the key's ModRevision, so concurrent
// coordinators cannot both win a takeover.
package etcd

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	etcd "go.etcd.io/etcd/client/v3"

	"github.com/reprisedb/go-reprise/headstate"
)

// DefaultKey is the etcd key used when none is configured.
const DefaultKey = "/reprise/head"

// Client is the subset of the etcd client the store needs.
type Client interface {
	// Get reads a key.
	Get(ctx context.Context, key string, opts ...etcd.OpOption) (*etcd.GetResponse, error)
	// Txn creates a new transaction.
	Txn(ctx context.Context) etcd.Txn
}

// Store is an etcd-backed headstate.Store.
type Store struct {
	client Client
	key    string
}

var _ headstate.Store = (*Store)(nil)

// New creates a store on key. An empty key selects DefaultKey.
func New(client Client, key string) *Store {
	if key == "" {
		key = DefaultKey
	}

	return &Store{client: client, key: key}
}

// Load implements headstate.Store.
func (s *Store) Load(ctx context.Context) (headstate.Head, error) {
	head, _, err := s.get(ctx)
	return head, err
}

func (s *Store) get(ctx context.Context) (headstate.Head, int64, error) {
	resp, err := s.client.Get(ctx, s.key)
	if err != nil {
		return headstate.Head{}, 0, fmt.Errorf("failed to get %s: %w", s.key, err)
	}

	if len(resp.Kvs) == 0 {
		return headstate.Head{}, 0, nil
	}

	var head headstate.Head
	if err := msgpack.Unmarshal(resp.Kvs[0].Value, &head); err != nil {
		return headstate.Head{}, 0, fmt.Errorf("failed to decode head state at %s: %w", s.key, err)
	}

	return head, resp.Kvs[0].ModRevision, nil
}

// CompareAndSwap implements headstate.Store. The stored document is read,
// compared with expected and replaced in a transaction that fails if the
// key was modified since the read.
func (s *Store) CompareAndSwap(ctx context.Context, expected, next headstate.Head) error {
	current, modRevision, err := s.get(ctx)
	if err != nil {
		return err
	}

	if !current.Equal(expected) {
		return headstate.ErrHeadChanged
	}

	data, err := msgpack.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode head state: %w", err)
	}

	resp, err := s.client.Txn(ctx).
		If(etcd.Compare(etcd.ModRevision(s.key), "=", modRevision)).
		Then(etcd.OpPut(s.key, string(data))).
		Commit()
	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	if !resp.Succeeded {
		return headstate.ErrHeadChanged
	}

	return nil
}
