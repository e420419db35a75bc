package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type value struct {
	Name string `json:"name"`
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k1", value{Name: "a"}))
	c.store.Wait()

	var got value
	ok, err := c.Get(ctx, "k1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.Name)
}

func TestCache_GetMiss(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	defer c.Close()

	var got value
	ok, err := c.Get(context.Background(), "missing", &got)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_RefreshTTL_MissingKeyReturnsFalse(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	defer c.Close()

	require.False(t, c.RefreshTTL(context.Background(), "nope"))
}

func TestCache_SingleFlightedConcurrentSet(t *testing.T) {
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, c.Set(ctx, "shared", value{Name: "same"}))
		}()
	}
	wg.Wait()
	c.store.Wait()

	var got value
	ok, err := c.Get(ctx, "shared", &got)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "same", got.Name)
}

func TestCache_BatchedDeleteFlushesByCooldown(t *testing.T) {
	opts := DefaultOptions()
	opts.DeleteBatchMax = 1000
	opts.DeleteCooldown = 10 * time.Millisecond
	c, err := New(opts)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", value{Name: "a"}))
	c.store.Wait()

	c.Delete(ctx, "k")
	require.Eventually(t, func() bool {
		var out value
		ok, _ := c.Get(ctx, "k", &out)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestCache_BatchedDeleteFlushesBySize(t *testing.T) {
	opts := DefaultOptions()
	opts.DeleteBatchMax = 3
	opts.DeleteCooldown = time.Hour
	c, err := New(opts)
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, value{Name: k}))
	}
	c.store.Wait()

	c.Delete(ctx, "a")
	c.Delete(ctx, "b")
	c.Delete(ctx, "c")

	require.Eventually(t, func() bool {
		var out value
		ok, _ := c.Get(ctx, "a", &out)
		return !ok
	}, time.Second, 5*time.Millisecond)
}
