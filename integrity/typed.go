// Package integrity stores typed records with built-in integrity protection.
// Every record is sealed with the hashes and signatures of the configured
// algorithms and checked again on every read.
//
// See [New] for configuration options and [Typed] for available operations.
package integrity

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/crypto"
	"github.com/reprisedb/go-reprise/hasher"
	"github.com/reprisedb/go-reprise/internal/options"
	"github.com/reprisedb/go-reprise/kv"
	"github.com/reprisedb/go-reprise/marshaller"
	"github.com/reprisedb/go-reprise/namer"
	"github.com/reprisedb/go-reprise/operation"
	"github.com/reprisedb/go-reprise/predicate"
	"github.com/reprisedb/go-reprise/tx"
	"github.com/reprisedb/go-reprise/watch"
)

// Storage is the transactional store records live in. *reprise.DB
// implements it.
type Storage interface {
	Tx(ctx context.Context) tx.Tx
	Watch(ctx context.Context, key []byte, opts ...watch.Option) (<-chan watch.Event, error)
}

type typedOptions[T any] struct {
	marshaller marshaller.TypedMarshaller[T]
	hashers    []hasher.Hasher
	signers    []crypto.Signer
	verifiers  []crypto.Verifier
}

// WithHasher adds a hash computed on Put and checked on every read.
func WithHasher[T any](h hasher.Hasher) options.OptionCallback[typedOptions[T]] {
	return func(o *typedOptions[T]) {
		o.hashers = append(o.hashers, h)
	}
}

// WithSigner adds a signature produced on Put.
func WithSigner[T any](s crypto.Signer) options.OptionCallback[typedOptions[T]] {
	return func(o *typedOptions[T]) {
		o.signers = append(o.signers, s)
	}
}

// WithVerifier adds a signature required on every read.
func WithVerifier[T any](v crypto.Verifier) options.OptionCallback[typedOptions[T]] {
	return func(o *typedOptions[T]) {
		o.verifiers = append(o.verifiers, v)
	}
}

// WithSignerVerifier is WithSigner and WithVerifier for one key pair.
func WithSignerVerifier[T any](sv crypto.SignerVerifier) options.OptionCallback[typedOptions[T]] {
	return func(o *typedOptions[T]) {
		o.signers = append(o.signers, sv)
		o.verifiers = append(o.verifiers, sv)
	}
}

// WithMarshaller replaces the default YAML marshaller of values.
func WithMarshaller[T any](m marshaller.TypedMarshaller[T]) options.OptionCallback[typedOptions[T]] {
	return func(o *typedOptions[T]) {
		o.marshaller = m
	}
}

// Typed provides integrity-protected storage operations for typed values
// kept under one namespace.
type Typed[T any] struct {
	base   Storage
	ns     namer.Namespace
	sealer sealer[T]
}

// New creates a Typed store of the records under ns.
func New[T any](base Storage, ns namer.Namespace, opts ...options.OptionCallback[typedOptions[T]]) *Typed[T] {
	o := options.ApplyOptions[typedOptions[T]](func() typedOptions[T] {
		return typedOptions[T]{
			marshaller: marshaller.NewTypedYamlMarshaller[T](),
			hashers:    nil,
			signers:    nil,
			verifiers:  nil,
		}
	}, opts)

	return &Typed[T]{base: base, ns: ns, sealer: newSealer(o)}
}

// Namespace returns the namespace the records live in.
func (t *Typed[T]) Namespace() namer.Namespace {
	return t.ns
}

func checkName(name string) bool {
	switch {
	case len(name) == 0:
		return false
	case strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/"):
		return false
	default:
		return true
	}
}

func checkPrefix(prefix string) bool {
	return !strings.HasPrefix(prefix, "/")
}

func (t *Typed[T]) key(name string) []byte {
	return t.ns.Key([]byte(name))
}

func (t *Typed[T]) name(key []byte) string {
	return string(bytes.TrimPrefix(key, t.ns.Prefix()))
}

// Predicate builds a condition on the key of a record.
type Predicate func(key []byte) predicate.Predicate

// VersionEqual holds when the record was last written at revision. Zero
// means the record does not exist.
func VersionEqual(revision int64) Predicate {
	return func(key []byte) predicate.Predicate { return predicate.VersionEqual(key, revision) }
}

// VersionNotEqual holds when the record was not last written at revision.
func VersionNotEqual(revision int64) Predicate {
	return func(key []byte) predicate.Predicate { return predicate.VersionNotEqual(key, revision) }
}

// VersionGreater holds when the record was last written after revision.
func VersionGreater(revision int64) Predicate {
	return func(key []byte) predicate.Predicate { return predicate.VersionGreater(key, revision) }
}

// VersionLess holds when the record was last written before revision.
func VersionLess(revision int64) Predicate {
	return func(key []byte) predicate.Predicate { return predicate.VersionLess(key, revision) }
}

type getOptions struct {
	selector                option.Generic[kv.Selector]
	ignoreVerificationError bool
}

type putOptions struct {
	predicates []Predicate
}

type deleteOptions struct {
	withPrefix bool
	predicates []Predicate
}

// AtRevision reads records as selected by sel instead of at the head.
func AtRevision(sel kv.Selector) options.OptionCallback[getOptions] {
	return func(opts *getOptions) {
		opts.selector = option.Some(sel)
	}
}

// IgnoreVerificationError returns records whose hash or signature checks
// failed. The Error field of such a result still carries the details.
// Records that cannot be decoded are never returned.
func IgnoreVerificationError() options.OptionCallback[getOptions] {
	return func(opts *getOptions) {
		opts.ignoreVerificationError = true
	}
}

// WithPutPredicates makes Put conditional. If the predicates do not hold,
// [ErrPredicateFailed] is returned.
func WithPutPredicates(predicates ...Predicate) options.OptionCallback[putOptions] {
	return func(opts *putOptions) {
		opts.predicates = append(opts.predicates, predicates...)
	}
}

// WithDeletePredicates makes Delete conditional. If the predicates do not
// hold, [ErrPredicateFailed] is returned.
func WithDeletePredicates(predicates ...Predicate) options.OptionCallback[deleteOptions] {
	return func(opts *deleteOptions) {
		opts.predicates = append(opts.predicates, predicates...)
	}
}

// WithPrefix deletes every record whose name starts with the given prefix.
func WithPrefix() options.OptionCallback[deleteOptions] {
	return func(opts *deleteOptions) {
		opts.withPrefix = true
	}
}

func newGetOptions() getOptions {
	return getOptions{selector: option.None[kv.Selector](), ignoreVerificationError: false}
}

func (o getOptions) operationOptions(prefix bool) []operation.Option {
	var out []operation.Option

	if prefix {
		out = append(out, operation.WithPrefix())
	}

	if sel, ok := o.selector.Get(); ok {
		out = append(out, operation.WithSelector(sel))
	}

	return out
}

func (t *Typed[T]) result(e kv.Entry) ValidatedResult[T] {
	value, err := t.sealer.open(e.Value)

	return ValidatedResult[T]{
		Name:     t.name(e.Key),
		Revision: e.Revision,
		Value:    value,
		Error:    err,
	}
}

// Get retrieves and validates a single record.
func (t *Typed[T]) Get(
	ctx context.Context,
	name string,
	vOpts ...options.OptionCallback[getOptions],
) (ValidatedResult[T], error) {
	if !checkName(name) {
		return ValidatedResult[T]{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	opts := options.ApplyOptions[getOptions](newGetOptions, vOpts)

	resp, err := t.base.Tx(ctx).
		Then(operation.Get(t.key(name), opts.operationOptions(false)...)).
		Commit()
	if err != nil {
		return ValidatedResult[T]{}, fmt.Errorf("failed to get %q: %w", name, err)
	}

	if len(resp.Results) == 0 || len(resp.Results[0].Values) == 0 {
		return ValidatedResult[T]{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	res := t.result(resp.Results[0].Values[0])

	switch {
	case res.Error == nil:
		return res, nil
	case opts.ignoreVerificationError && res.Value.IsSome():
		return res, nil
	default:
		return ValidatedResult[T]{}, res.Error
	}
}

// Put seals and stores a record and returns the commit revision.
func (t *Typed[T]) Put(
	ctx context.Context,
	name string,
	value T,
	vOpts ...options.OptionCallback[putOptions],
) (int64, error) {
	if !checkName(name) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := t.sealer.seal(value)
	if err != nil {
		return 0, err
	}

	opts := options.ApplyOptions[putOptions](nil, vOpts)
	key := t.key(name)

	txn := t.base.Tx(ctx)
	if len(opts.predicates) > 0 {
		txn = txn.If(t.predicates(key, opts.predicates)...)
	}

	resp, err := txn.Then(operation.Put(key, data)).Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to put %q: %w", name, err)
	}

	if !resp.Succeeded {
		return 0, ErrPredicateFailed
	}

	return resp.Revision, nil
}

// Delete removes a record, or every record under a prefix with [WithPrefix].
func (t *Typed[T]) Delete(ctx context.Context, name string, vOpts ...options.OptionCallback[deleteOptions]) error {
	opts := options.ApplyOptions[deleteOptions](nil, vOpts)

	switch {
	case opts.withPrefix && !checkPrefix(name):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case !opts.withPrefix && !checkName(name):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	key := t.key(name)

	var op operation.Operation
	if opts.withPrefix {
		op = operation.Delete(key, operation.WithPrefix())
	} else {
		op = operation.Delete(key)
	}

	txn := t.base.Tx(ctx)
	if len(opts.predicates) > 0 {
		txn = txn.If(t.predicates(key, opts.predicates)...)
	}

	resp, err := txn.Then(op).Commit()
	if err != nil {
		return fmt.Errorf("failed to delete %q: %w", name, err)
	}

	if !resp.Succeeded {
		return ErrPredicateFailed
	}

	return nil
}

func (t *Typed[T]) predicates(key []byte, preds []Predicate) []predicate.Predicate {
	out := make([]predicate.Predicate, 0, len(preds))
	for _, p := range preds {
		out = append(out, p(key))
	}

	return out
}

// Range retrieves and validates every record whose name starts with
// prefix, in name order. Records failing validation are skipped unless
// [IgnoreVerificationError] is given.
func (t *Typed[T]) Range(
	ctx context.Context,
	prefix string,
	vOpts ...options.OptionCallback[getOptions],
) ([]ValidatedResult[T], error) {
	if !checkPrefix(prefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, prefix)
	}

	opts := options.ApplyOptions[getOptions](newGetOptions, vOpts)

	resp, err := t.base.Tx(ctx).
		Then(operation.Get(t.key(prefix), opts.operationOptions(true)...)).
		Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to range %q: %w", prefix, err)
	}

	var out []ValidatedResult[T]

	for _, r := range resp.Results {
		for _, e := range r.Values {
			res := t.result(e)

			switch {
			case res.Error == nil:
				out = append(out, res)
			case opts.ignoreVerificationError && res.Value.IsSome():
				out = append(out, res)
			}
		}
	}

	return out, nil
}

// Watch streams changes of the records whose name starts with prefix
// until ctx is done.
func (t *Typed[T]) Watch(ctx context.Context, prefix string) (<-chan Event, error) {
	if !checkPrefix(prefix) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, prefix)
	}

	raw, err := t.base.Watch(ctx, t.key(prefix), watch.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to watch %q: %w", prefix, err)
	}

	out := make(chan Event)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-raw:
				if !ok {
					return
				}

				select {
				case <-ctx.Done():
					return
				case out <- Event{Name: t.name(ev.Key), Revision: ev.Revision, Deleted: ev.Tombstone}:
				}
			}
		}
	}()

	return out, nil
}
