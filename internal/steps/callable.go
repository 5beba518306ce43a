package steps

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Args are the resolved inputs of one invocation.
type Args struct {
	Positional []any
	Keyword    map[string]any
}

// Arg returns the i-th positional argument, or nil.
func (a Args) Arg(i int) any {
	if i < 0 || i >= len(a.Positional) {
		return nil
	}
	return a.Positional[i]
}

// Func is a step implementation that returns its result directly. The result
// may be a models.StepOutput or any plain value.
type Func func(ctx context.Context, sctx *Context, args Args) (any, error)

// AsyncFunc is a step implementation that hands back a pending computation.
type AsyncFunc func(ctx context.Context, sctx *Context, args Args) *Pending

// Callable is the implementation bound to a function name. Exactly one of Sync
// and Async is expected to be set; a Callable with neither is unbound.
type Callable struct {
	Sync  Func
	Async AsyncFunc
}

func (c Callable) Bound() bool {
	return c.Sync != nil || c.Async != nil
}

func (c Callable) invoke(ctx context.Context, sctx *Context, args Args) (any, error) {
	if c.Sync != nil {
		return c.Sync(ctx, sctx, args)
	}
	return c.Async(ctx, sctx, args).Await(ctx)
}

// Processor resolves function names to implementations.
type Processor interface {
	Lookup(functionName string) (Callable, bool)
}

// Table is a Processor backed by a map.
type Table map[string]Callable

func (t Table) Lookup(functionName string) (Callable, bool) {
	c, ok := t[functionName]
	return c, ok && c.Bound()
}

// Pending is a computation running in the background.
type Pending struct {
	group *errgroup.Group
	value any
}

// Go starts fn in the background and returns its pending result.
func Go(ctx context.Context, fn func(ctx context.Context) (any, error)) *Pending {
	g, gctx := errgroup.WithContext(ctx)
	p := &Pending{group: g}
	g.Go(func() error {
		v, err := fn(gctx)
		p.value = v
		return err
	})
	return p
}

// Await blocks until the computation finishes or ctx is done.
func (p *Pending) Await(ctx context.Context) (any, error) {
	done := make(chan error, 1)
	go func() {
		done <- p.group.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return p.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
