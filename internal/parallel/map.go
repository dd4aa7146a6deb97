package parallel

import (
	"context"
	"iter"

	"golang.org/x/sync/errgroup"
)

type result[D any] struct {
	d D
	e error
}

// Map runs mapFunc over the items of an input sequence with at most limit
// calls in flight. Results are yielded in completion order, not input order.
// Leaving the range loop early, or cancelling the parent context, cancels the
// context passed to the pending mapFuncs and ends the iteration.
//
//	for d, err := range parallel.NewMap(ctx, 2, fn).Iter(parallel.Slice(items)) {}
type Map[E, D any] struct {
	ctx     context.Context
	cancel  context.CancelFunc
	g       *errgroup.Group
	gctx    context.Context
	mapped  chan result[D]
	mapFunc func(context.Context, E) (D, error)
}

func NewMap[E, D any](parent context.Context, limit int, mapFunc func(context.Context, E) (D, error)) *Map[E, D] {
	ctx, cancel := context.WithCancel(parent)
	g, gctx := errgroup.WithContext(ctx)
	// one extra slot for the feeding goroutine
	g.SetLimit(max(limit, 1) + 1)

	return &Map[E, D]{
		ctx:     ctx,
		cancel:  cancel,
		g:       g,
		gctx:    gctx,
		mapped:  make(chan result[D], max(limit, 1)),
		mapFunc: mapFunc,
	}
}

func (m *Map[E, D]) feed(seq iter.Seq2[E, error]) {
	m.g.Go(func() error {
		for entry, err := range seq {
			if m.gctx.Err() != nil {
				return m.gctx.Err()
			}
			if err != nil {
				m.send(result[D]{e: err})
				continue
			}
			m.g.Go(func() error {
				d, err := m.mapFunc(m.gctx, entry)
				m.send(result[D]{d: d, e: err})
				return nil
			})
		}
		return nil
	})
}

func (m *Map[E, D]) send(r result[D]) {
	select {
	case <-m.gctx.Done():
	case m.mapped <- r:
	}
}

// Iter starts the workers and returns the results. It must be ranged over
// at most once.
func (m *Map[E, D]) Iter(seq iter.Seq2[E, error]) iter.Seq2[D, error] {
	return func(yield func(D, error) bool) {
		m.feed(seq)

		go func() {
			_ = m.g.Wait()
			close(m.mapped)
		}()
		// wait for the workers, so none outlives the loop
		defer func() {
			m.cancel()
			for range m.mapped {
			}
		}()

		for r := range m.mapped {
			if m.ctx.Err() != nil {
				return
			}
			if !yield(r.d, r.e) {
				return
			}
		}
	}
}

// Slice adapts a slice to the input of Map.
func Slice[E any](s []E) iter.Seq2[E, error] {
	return func(yield func(E, error) bool) {
		for _, x := range s {
			if !yield(x, nil) {
				return
			}
		}
	}
}
