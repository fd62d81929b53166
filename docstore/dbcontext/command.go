package dbcontext

import (
	"context"

	"github.com/AntonStoeckl/docstore-uow-go/docstore"
)

type commandKind int

const (
	commandUnknown commandKind = iota
	commandSync
	commandAsync
)

// Command is a deferred operation in one of two shapes, fixed at construction:
// synchronous (SyncCommand) or asynchronous (AsyncCommand). The zero Command is unrecognized
// and fails with ErrUnsupportedCommand when executed.
type Command struct {
	kind      commandKind
	syncFn    func(ctx context.Context) (any, error)
	asyncFn   func(ctx context.Context) *docstore.Future[any]
	operation string
}

// SyncCommand wraps a synchronous operation.
func SyncCommand(fn func(ctx context.Context) (any, error)) Command {
	return Command{kind: commandSync, syncFn: fn}
}

// AsyncCommand wraps an asynchronous operation. Its Future is awaited when the command runs.
func AsyncCommand(fn func(ctx context.Context) *docstore.Future[any]) Command {
	return Command{kind: commandAsync, asyncFn: fn}
}

// Named returns a copy of the command carrying an operation name used in logs and metrics.
func (c Command) Named(operation string) Command {
	c.operation = operation
	return c
}

// Operation returns the operation name, "command" if none was given.
func (c Command) Operation() string {
	if c.operation == "" {
		return defaultOperationName
	}

	return c.operation
}

func (c Command) run(ctx context.Context) (any, error) {
	switch c.kind {
	case commandSync:
		if c.syncFn == nil {
			return nil, docstore.ErrUnsupportedCommand
		}

		return c.syncFn(ctx)

	case commandAsync:
		if c.asyncFn == nil {
			return nil, docstore.ErrUnsupportedCommand
		}

		future := c.asyncFn(ctx)
		if future == nil {
			return nil, docstore.ErrUnsupportedCommand
		}

		return future.Await(ctx)

	default:
		return nil, docstore.ErrUnsupportedCommand
	}
}
