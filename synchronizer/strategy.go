package synchronizer

import "context"

// Deriver turns an inbound record into zero or more queue items. It runs on the scheduler
// goroutine while the record's window is open.
type Deriver[IN, QT any] interface {
	Derive(ctx context.Context, in IN) ([]QT, error)
}

type DeriverFunc[IN, QT any] func(ctx context.Context, in IN) ([]QT, error)

func (fn DeriverFunc[IN, QT]) Derive(ctx context.Context, in IN) ([]QT, error) {
	return fn(ctx, in)
}

// Committer performs the externally visible side effect for one item. It runs on the worker
// goroutine, once per item, only after the item's window is committed. Retrying is up to the
// implementation, any returned error stops the stage.
type Committer[QT any] interface {
	Commit(ctx context.Context, item QT) error
}

type CommitterFunc[QT any] func(ctx context.Context, item QT) error

func (fn CommitterFunc[QT]) Commit(ctx context.Context, item QT) error {
	return fn(ctx, item)
}

// Identity derives the record itself as the only queue item.
func Identity[T any]() Deriver[T, T] {
	return DeriverFunc[T, T](func(_ context.Context, in T) ([]T, error) {
		return []T{in}, nil
	})
}
