package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLineQueue(t *testing.T) {
	t.Parallel()

	t.Run("fifo", func(t *testing.T) {
		q := newLineQueue()
		for _, line := range []string{"a", "b", "c"} {
			require.True(t, q.push(line))
		}
		require.Equal(t, 3, q.len())
		for _, want := range []string{"a", "b", "c"} {
			got, err := q.pop(t.Context())
			require.NoError(t, err)
			require.Equal(t, want, got)
		}
	})

	t.Run("pop waits for push", func(t *testing.T) {
		q := newLineQueue()
		go func() {
			time.Sleep(10 * time.Millisecond)
			q.push("late")
		}()
		got, err := q.pop(t.Context())
		require.NoError(t, err)
		require.Equal(t, "late", got)
	})

	t.Run("close drains then ends", func(t *testing.T) {
		q := newLineQueue()
		q.push("last")
		q.close()
		q.close()
		require.False(t, q.push("too late"))

		got, err := q.pop(t.Context())
		require.NoError(t, err)
		require.Equal(t, "last", got)
		_, err = q.pop(t.Context())
		require.ErrorIs(t, err, ErrStreamClosed)
	})

	t.Run("context", func(t *testing.T) {
		q := newLineQueue()
		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()
		_, err := q.pop(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
