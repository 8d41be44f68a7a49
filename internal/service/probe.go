package service

import (
	"context"
	"errors"
	"fmt"

	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

// Strategy is one named way of producing a value.
type Strategy[T any] struct {
	Name string
	Run  func(ctx context.Context) (T, error)
}

// Attempt describes a finished strategy run.
type Attempt struct {
	Name string
	Err  error
}

// FirstSuccess runs strategies in order and returns the first value produced
// without error along with the name of the strategy that produced it. Later
// strategies are never started once one succeeds. It stops early when ctx is
// done. onAttempt, when set, sees every run.
func FirstSuccess[T any](ctx context.Context, strategies []Strategy[T], onAttempt func(Attempt)) (T, string, error) {
	var zero T
	if len(strategies) == 0 {
		return zero, "", appErrors.ErrNoQueryShape
	}

	failures := make([]error, 0, len(strategies))
	for _, strategy := range strategies {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		value, err := strategy.Run(ctx)
		if onAttempt != nil {
			onAttempt(Attempt{Name: strategy.Name, Err: err})
		}
		if err == nil {
			return value, strategy.Name, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", ctxErr
		}
		failures = append(failures, fmt.Errorf("%s: %w", strategy.Name, err))
	}
	return zero, "", appErrors.Wrap(errors.Join(failures...), appErrors.ErrAllShapesFailed.Code, appErrors.ErrAllShapesFailed.Status, appErrors.ErrAllShapesFailed.Message)
}
