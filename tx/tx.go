// Package tx provides transactional interfaces for atomic storage operations.
// It supports conditional execution with predicates for complex transaction logic.
package tx

import (
	"context"
	"fmt"

	"github.com/tarantool/go-option"

	"github.com/reprisedb/go-reprise/operation"
	"github.com/reprisedb/go-reprise/predicate"
)

// Tx represents a transactional interface for atomic operations.
// Transactions support conditional execution with predicates.
type Tx interface {
	// If specifies predicates for conditional transaction execution.
	// Empty predicate list means always true (unconditional execution).
	If(predicates ...predicate.Predicate) Tx
	// Then specifies operations to execute if predicates evaluate to true.
	// At least one Then call is required.
	Then(operations ...operation.Operation) Tx
	// Else specifies operations to execute if predicates evaluate to false.
	// This is optional.
	Else(operations ...operation.Operation) Tx
	// Commit atomically executes the transaction and returns the result.
	Commit() (Response, error)
}

// Executor evaluates predicates and runs the chosen branch atomically.
type Executor interface {
	Execute(
		ctx context.Context,
		predicates []predicate.Predicate,
		thenOps []operation.Operation,
		elseOps []operation.Operation,
	) (Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(
	ctx context.Context,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (Response, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(
	ctx context.Context,
	predicates []predicate.Predicate,
	thenOps []operation.Operation,
	elseOps []operation.Operation,
) (Response, error) {
	return f(ctx, predicates, thenOps, elseOps)
}

// builder is the Tx handed out by New.
type builder struct {
	exec Executor
	ctx  context.Context //nolint:containedctx // Context is stored for transaction execution

	predicates option.Generic[[]predicate.Predicate]
	thenOps    option.Generic[[]operation.Operation]
	elseOps    option.Generic[[]operation.Operation]
}

// New creates a transaction builder executed by exec under ctx.
func New(ctx context.Context, exec Executor) Tx {
	return &builder{
		exec:       exec,
		ctx:        ctx,
		predicates: option.None[[]predicate.Predicate](),
		thenOps:    option.None[[]operation.Operation](),
		elseOps:    option.None[[]operation.Operation](),
	}
}

// If adds predicates to the transaction condition.
// If should be called before Then/Else.
func (b *builder) If(predicates ...predicate.Predicate) Tx {
	if b.predicates.IsSome() {
		panic("predicates are already set")
	} else if b.thenOps.IsSome() || b.elseOps.IsSome() {
		panic("If can only be called before Then/Else")
	}

	b.predicates = option.Some(predicates)

	return b
}

// Then adds operations to execute if predicates evaluate to true.
// Then can only be called before Else.
func (b *builder) Then(operations ...operation.Operation) Tx {
	if b.thenOps.IsSome() {
		panic("then operations are already set")
	} else if b.elseOps.IsSome() {
		panic("Then can only be called before Else")
	}

	b.thenOps = option.Some(operations)

	return b
}

// Else adds operations to execute if predicates evaluate to false.
func (b *builder) Else(operations ...operation.Operation) Tx {
	if b.elseOps.IsSome() {
		panic("else operations are already set")
	}

	b.elseOps = option.Some(operations)

	return b
}

// Commit executes the transaction through the executor.
func (b *builder) Commit() (Response, error) {
	if !b.thenOps.IsSome() {
		return Response{}, ErrNoThen
	}

	resp, err := b.exec.Execute(
		b.ctx,
		b.predicates.UnwrapOr(nil),
		b.thenOps.UnwrapOr(nil),
		b.elseOps.UnwrapOr(nil),
	)
	if err != nil {
		return Response{}, fmt.Errorf("tx execute failed: %w", err)
	}

	return resp, nil
}
