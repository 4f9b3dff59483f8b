package counter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterImplementations() map[string]func(t *testing.T) Counter {
	return map[string]func(t *testing.T) Counter{
		"memory": func(t *testing.T) Counter { return NewMemoryCounter() },
		"redis": func(t *testing.T) Counter {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisCounter(client)
		},
	}
}

func TestCounter_GrantsUpToMax(t *testing.T) {
	for name, factory := range counterImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := factory(t)

			for i := 1; i <= 3; i++ {
				adm, err := c.IssueAtomically(ctx, "coupon:issued_count:coupon_1", "coupon:issued_users:coupon_1", fmt.Sprintf("user_%d", i), 3)
				require.NoError(t, err)
				assert.Equal(t, StatusGranted, adm.Status)
				assert.Equal(t, int64(i), adm.Rank)
			}

			adm, err := c.IssueAtomically(ctx, "coupon:issued_count:coupon_1", "coupon:issued_users:coupon_1", "user_4", 3)
			require.NoError(t, err)
			assert.Equal(t, StatusOutOfStock, adm.Status)

			current, err := c.Current(ctx, "coupon:issued_count:coupon_1")
			require.NoError(t, err)
			assert.Equal(t, int64(3), current, "rejected increments are rolled back")
		})
	}
}

func TestCounter_DuplicateTakesPrecedenceOverExhaustion(t *testing.T) {
	for name, factory := range counterImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := factory(t)

			adm, err := c.IssueAtomically(ctx, "count", "members", "user_1", 1)
			require.NoError(t, err)
			require.True(t, adm.Granted())

			adm, err = c.IssueAtomically(ctx, "count", "members", "user_1", 1)
			require.NoError(t, err)
			assert.Equal(t, StatusAlreadyIssued, adm.Status)

			issued, err := c.HasIssued(ctx, "members", "user_1")
			require.NoError(t, err)
			assert.True(t, issued)

			issued, err = c.HasIssued(ctx, "members", "user_2")
			require.NoError(t, err)
			assert.False(t, issued)
		})
	}
}

func TestCounter_ConcurrentRanksAreDistinct(t *testing.T) {
	for name, factory := range counterImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := factory(t)

			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				ranks []int64
				out   int
			)
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					adm, err := c.IssueAtomically(ctx, "count", "members", fmt.Sprintf("user_%d", i), 5)
					if err != nil {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					if adm.Granted() {
						ranks = append(ranks, adm.Rank)
					} else if adm.Status == StatusOutOfStock {
						out++
					}
				}(i)
			}
			wg.Wait()

			sort.Slice(ranks, func(i, j int) bool { return ranks[i] < ranks[j] })
			assert.Equal(t, []int64{1, 2, 3, 4, 5}, ranks)
			assert.Equal(t, 15, out)
		})
	}
}

func TestCounter_SeedOnlyWhenUnset(t *testing.T) {
	for name, factory := range counterImplementations() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := factory(t)

			require.NoError(t, c.Seed(ctx, "count", 4))
			require.NoError(t, c.Seed(ctx, "count", 0))

			current, err := c.Current(ctx, "count")
			require.NoError(t, err)
			assert.Equal(t, int64(4), current)

			adm, err := c.IssueAtomically(ctx, "count", "members", "user_1", 5)
			require.NoError(t, err)
			assert.Equal(t, Admission{Status: StatusGranted, Rank: 5}, adm)

			adm, err = c.IssueAtomically(ctx, "count", "members", "user_2", 5)
			require.NoError(t, err)
			assert.Equal(t, StatusOutOfStock, adm.Status)
		})
	}
}

func TestCounter_Validation(t *testing.T) {
	c := NewMemoryCounter()
	_, err := c.IssueAtomically(context.Background(), "", "m", "u", 1)
	assert.ErrorIs(t, err, ErrEmptyKey)
	_, err = c.IssueAtomically(context.Background(), "c", "m", "u", 0)
	assert.ErrorIs(t, err, ErrInvalidMax)
}
