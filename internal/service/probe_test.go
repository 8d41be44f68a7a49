package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-adp-console/pkg/errors"
)

func countingStrategies(calls *[]string, failUntil int, total int) []Strategy[int] {
	strategies := make([]Strategy[int], 0, total)
	for i := 1; i <= total; i++ {
		i := i
		name := string(rune('a' + i - 1))
		strategies = append(strategies, Strategy[int]{
			Name: name,
			Run: func(ctx context.Context) (int, error) {
				*calls = append(*calls, name)
				if i < failUntil {
					return 0, errors.New("404")
				}
				return i, nil
			},
		})
	}
	return strategies
}

func TestFirstSuccessStopsAtFirstSuccess(t *testing.T) {
	var calls []string
	var attempts []Attempt

	value, name, err := FirstSuccess(context.Background(), countingStrategies(&calls, 3, 5), func(a Attempt) {
		attempts = append(attempts, a)
	})

	require.NoError(t, err)
	assert.Equal(t, 3, value)
	assert.Equal(t, "c", name)
	assert.Equal(t, []string{"a", "b", "c"}, calls)
	require.Len(t, attempts, 3)
	assert.Error(t, attempts[0].Err)
	assert.NoError(t, attempts[2].Err)
}

func TestFirstSuccessAllFail(t *testing.T) {
	var calls []string
	_, _, err := FirstSuccess(context.Background(), countingStrategies(&calls, 10, 3), nil)

	assert.ErrorIs(t, err, appErrors.ErrAllShapesFailed)
	assert.ErrorContains(t, err, "b: 404")
	assert.Equal(t, []string{"a", "b", "c"}, calls)
}

func TestFirstSuccessNoStrategies(t *testing.T) {
	_, _, err := FirstSuccess[int](context.Background(), nil, nil)
	assert.ErrorIs(t, err, appErrors.ErrNoQueryShape)
}

func TestFirstSuccessHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	strategies := []Strategy[int]{
		{Name: "a", Run: func(context.Context) (int, error) {
			calls = append(calls, "a")
			cancel()
			return 0, errors.New("timeout")
		}},
		{Name: "b", Run: func(context.Context) (int, error) {
			calls = append(calls, "b")
			return 1, nil
		}},
	}

	_, _, err := FirstSuccess(ctx, strategies, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"a"}, calls)
}
