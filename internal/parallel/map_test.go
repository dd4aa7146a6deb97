package parallel_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"testing/synctest"
	"time"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/parallel"
	"github.com/stretchr/testify/require"
)

func sleep(ctx context.Context, d time.Duration) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(d):
		return int(d / time.Second), nil
	}
}

func TestMap(t *testing.T) {
	t.Parallel()

	input := []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

	type given struct {
		limit   int
		timeout time.Duration
	}
	type then struct {
		values  []int
		elapsed time.Duration
	}

	var testCases = []struct {
		scenario string
		given    given
		then     then
	}{
		{"limit 1", given{1, 0}, then{[]int{1, 2, 5, 10}, 18 * time.Second}},
		{"limit 2", given{2, 0}, then{[]int{1, 2, 5, 10}, 12 * time.Second}},
		{"limit 10", given{10, 0}, then{[]int{1, 2, 5, 10}, 10 * time.Second}},
		{"limit 10, cancel 3s", given{10, 3 * time.Second}, then{[]int{1, 2}, 3 * time.Second}},
	}

	for _, tt := range testCases {
		t.Run(tt.scenario, func(t *testing.T) {
			t.Parallel()
			synctest.Test(t, func(t *testing.T) {
				ctx := t.Context()
				if tt.given.timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, tt.given.timeout)
					defer cancel()
				}
				start := time.Now()
				got := values(parallel.NewMap(ctx, tt.given.limit, sleep).Iter(parallel.Slice(input)))
				require.ElementsMatch(t, tt.then.values, got)
				require.Equal(t, tt.then.elapsed, time.Since(start))
			})
		})
	}
}

func TestMap_Break(t *testing.T) {
	t.Parallel()
	synctest.Test(t, func(t *testing.T) {
		input := []time.Duration{1 * time.Second, 30 * time.Second, 60 * time.Second}
		start := time.Now()
		for v, err := range parallel.NewMap(t.Context(), 3, sleep).Iter(parallel.Slice(input)) {
			require.NoError(t, err)
			require.Equal(t, 1, v)
			break
		}
		// pending workers are cancelled, not waited for
		require.Equal(t, 1*time.Second, time.Since(start))
	})
}

func TestMap_Errors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	f := func(_ context.Context, i int) (int, error) {
		if i%2 == 1 {
			return 0, boom
		}
		return i * 10, nil
	}

	var ok []int
	var failed int
	for v, err := range parallel.NewMap(t.Context(), 2, f).Iter(parallel.Slice([]int{0, 1, 2, 3, 4})) {
		if err != nil {
			require.ErrorIs(t, err, boom)
			failed++
			continue
		}
		ok = append(ok, v)
	}
	require.ElementsMatch(t, []int{0, 20, 40}, ok)
	require.Equal(t, 2, failed)
}

func TestMap_InputErrors(t *testing.T) {
	t.Parallel()
	bad := errors.New("bad input")
	seq := func(yield func(int, error) bool) {
		if !yield(1, nil) {
			return
		}
		yield(0, bad)
	}
	f := func(_ context.Context, i int) (int, error) { return i, nil }

	var errs []error
	for _, err := range parallel.NewMap(t.Context(), 1, f).Iter(iter.Seq2[int, error](seq)) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], bad)
}

func values[T any](i iter.Seq2[T, error]) []T {
	var ret []T
	for k, err := range i {
		if err != nil {
			continue
		}
		ret = append(ret, k)
	}
	return ret
}
