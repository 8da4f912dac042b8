package proxy

import (
	"context"
	"errors"
)

// firstSuccess evaluates an ordered list of strategies strictly in sequence
// and returns the first successful value together with the index that
// produced it. When every strategy fails, the collected errors are joined
// behind the provided sentinel so callers can both classify the failure and
// inspect the per-attempt causes. Attempts are never concurrent and no
// strategy runs more than once.
func firstSuccess[T any](ctx context.Context, sentinel error, strategies []func(context.Context) (T, error)) (T, int, error) {
	var zero T
	failures := make([]error, 0, len(strategies))
	for i, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, -1, err
		}
		value, err := strategy(ctx)
		if err == nil {
			return value, i, nil
		}
		failures = append(failures, err)
	}
	return zero, -1, errors.Join(append([]error{sentinel}, failures...)...)
}
