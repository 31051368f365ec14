package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkQueue_FullDrops(t *testing.T) {
	q := NewWorkQueue(1, 1, func(context.Context, Task) {})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Task{JobID: "1", UserID: "U1"}))
	require.ErrorIs(t, q.Enqueue(ctx, Task{JobID: "2", UserID: "U1"}), ErrQueueFull)
	require.Equal(t, 1, q.Len())
}

func TestWorkQueue_ProcessesAndRecovers(t *testing.T) {
	var mu sync.Mutex
	var done []string
	q := NewWorkQueue(8, 2, func(_ context.Context, task Task) {
		if task.JobID == "boom" {
			panic("handler bug")
		}
		mu.Lock()
		done = append(done, task.JobID)
		mu.Unlock()
	})
	q.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, Task{JobID: "a", UserID: "U1"}))
	require.NoError(t, q.Enqueue(ctx, Task{JobID: "boom", UserID: "U2"}))
	require.NoError(t, q.Enqueue(ctx, Task{JobID: "b", UserID: "U3"}))
	q.Close()

	require.ElementsMatch(t, []string{"a", "b"}, done)
	require.ErrorIs(t, q.Enqueue(ctx, Task{JobID: "c", UserID: "U1"}), ErrQueueClosed)

	// second close is a no-op
	q.Close()
}

func TestWorkQueue_KeepsPerUserOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	q := NewWorkQueue(800, 8, func(_ context.Context, task Task) {
		// uneven handling time would reorder tasks spread over workers
		if task.Text == "0" {
			time.Sleep(5 * time.Millisecond)
		}
		var n int
		_, _ = fmt.Sscan(task.JobID, &n)
		mu.Lock()
		seen[task.UserID] = append(seen[task.UserID], n)
		mu.Unlock()
	})

	ctx := context.Background()
	for i := 0; i < 20; i++ {
		for _, user := range []string{"U1", "U2", "U3"} {
			require.NoError(t, q.Enqueue(ctx, Task{JobID: fmt.Sprint(i), UserID: user, Text: fmt.Sprint(i % 3)}))
		}
	}
	q.Start(ctx)
	q.Close()

	for _, user := range []string{"U1", "U2", "U3"} {
		require.Len(t, seen[user], 20, user)
		require.IsIncreasing(t, seen[user], user)
	}
}
