// Package tarantool delivers replicated commits to a Tarantool instance by
// calling a stored function with the canonical commit payload.
//
// The function receives (revision, canonical, hash) and must return true
// once the commit is durable on the peer, or false and a message to reject
// it. Truncations call a second function with (revision, epoch, principal,
// reason).
package tarantool

import (
	"context"
	"errors"
	"fmt"

	"github.com/tarantool/go-tarantool/v2"

	"github.com/reprisedb/go-reprise/journal"
	"github.com/reprisedb/go-reprise/replication"
)

const (
	// DefaultReplicateFunction is the stored function called for every commit.
	DefaultReplicateFunction = "reprise.replicate"
	// DefaultTruncateFunction is the stored function called on destructive rollback.
	DefaultTruncateFunction = "reprise.truncate_after"
)

var (
	// ErrUnexpectedResponse is returned when the response from tarantool has unexpected format.
	ErrUnexpectedResponse = errors.New("unexpected response from tarantool")
	// ErrRejected is returned when the stored function refuses a commit.
	ErrRejected = errors.New("rejected by peer")
)

// Peer is a replication.Peer backed by a Tarantool connection.
// tarantool.Connection and pool.ConnectionAdapter implement tarantool.Doer.
type Peer struct {
	name      string
	conn      tarantool.Doer
	replicate string
	truncate  string
}

var (
	_ replication.Peer      = (*Peer)(nil)
	_ replication.Truncater = (*Peer)(nil)
)

// Option configures a Peer.
type Option func(*Peer)

// WithFunctions overrides the stored function names.
func WithFunctions(replicate, truncate string) Option {
	return func(p *Peer) {
		if replicate != "" {
			p.replicate = replicate
		}

		if truncate != "" {
			p.truncate = truncate
		}
	}
}

// New creates a peer over conn.
func New(name string, conn tarantool.Doer, opts ...Option) *Peer {
	p := &Peer{
		name:      name,
		conn:      conn,
		replicate: DefaultReplicateFunction,
		truncate:  DefaultTruncateFunction,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Dial connects to a single Tarantool instance.
func Dial(ctx context.Context, addr, user, password string) (*tarantool.Connection, error) {
	dialer := &tarantool.NetDialer{
		Address:  addr,
		User:     user,
		Password: password,
		RequiredProtocolInfo: tarantool.ProtocolInfo{
			Auth:     tarantool.AutoAuth,
			Version:  tarantool.ProtocolVersion(0),
			Features: nil,
		},
	}

	conn, err := tarantool.Connect(ctx, dialer, tarantool.Opts{}) //nolint:exhaustruct
	if err != nil {
		return nil, fmt.Errorf("failed to connect to tarantool at %s: %w", addr, err)
	}

	return conn, nil
}

// Name implements replication.Peer.
func (p *Peer) Name() string {
	return p.name
}

// Replicate implements replication.Peer.
func (p *Peer) Replicate(ctx context.Context, revision int64, canonical, hash []byte) error {
	req := tarantool.NewCallRequest(p.replicate).
		Args([]any{revision, canonical, hash}).Context(ctx)

	return p.call(req, fmt.Sprintf("revision %d", revision))
}

// TruncateAfter implements replication.Truncater.
func (p *Peer) TruncateAfter(ctx context.Context, revision int64, t journal.Truncation) error {
	req := tarantool.NewCallRequest(p.truncate).
		Args([]any{revision, t.Epoch, t.Principal, t.Reason}).Context(ctx)

	return p.call(req, fmt.Sprintf("truncation after %d", revision))
}

func (p *Peer) call(req *tarantool.CallRequest, what string) error {
	result, err := p.conn.Do(req).Get()
	if err != nil {
		return fmt.Errorf("failed to deliver %s to %s: %w", what, p.name, err)
	}

	if len(result) == 0 {
		return fmt.Errorf("%w: empty result for %s", ErrUnexpectedResponse, what)
	}

	ok, isBool := result[0].(bool)
	switch {
	case !isBool:
		return fmt.Errorf("%w: expected boolean, got %T", ErrUnexpectedResponse, result[0])
	case ok:
		return nil
	case len(result) > 1:
		return fmt.Errorf("%w: %s: %v", ErrRejected, what, result[1])
	default:
		return fmt.Errorf("%w: %s", ErrRejected, what)
	}
}
