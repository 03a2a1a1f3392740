package whitelist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subpay/backend/internal/core"
)

// fakeSetClient backs the redis store with plain maps keyed like redis sets.
type fakeSetClient struct {
	sets map[string]map[string]bool
}

func newFakeSetClient() *fakeSetClient {
	return &fakeSetClient{sets: make(map[string]map[string]bool)}
}

func (c *fakeSetClient) SAdd(_ context.Context, key string, members ...string) error {
	set := c.sets[key]
	if set == nil {
		set = make(map[string]bool)
		c.sets[key] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}

func (c *fakeSetClient) SRem(_ context.Context, key string, members ...string) error {
	for _, m := range members {
		delete(c.sets[key], m)
	}
	return nil
}

func (c *fakeSetClient) SIsMember(_ context.Context, key, member string) (bool, error) {
	return c.sets[key][member], nil
}

func (c *fakeSetClient) SCard(_ context.Context, key string) (int64, error) {
	return int64(len(c.sets[key])), nil
}

func TestRedisStore(t *testing.T) {
	client := newFakeSetClient()
	store := NewRedisStore(client, "")
	ctx := context.Background()

	ok, err := store.Contains(ctx, payee)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Add(ctx, payee))
	ok, err = store.Contains(ctx, payee)
	require.NoError(t, err)
	assert.True(t, ok)

	// The default key namespaces the set.
	assert.True(t, client.sets["subpay:whitelist:global"][string(payee)])

	n, err := store.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.Remove(ctx, payee))
	ok, err = store.Contains(ctx, payee)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServiceOverRedisStore(t *testing.T) {
	svc := NewService(owner, NewRedisStore(newFakeSetClient(), "test:wl"), nil, nil)
	ctx := context.Background()

	require.NoError(t, svc.SetGlobalPayee(ctx, owner, payee, true))
	err := svc.SetGlobalPayee(ctx, owner, payee, true)
	assert.ErrorIs(t, err, core.ErrAlreadyWhitelisted)
}
