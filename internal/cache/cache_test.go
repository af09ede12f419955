package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), 2*time.Minute))
	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	now = now.Add(119 * time.Second)
	_, err = m.Get(ctx, "k")
	assert.NoError(t, err)

	now = now.Add(time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
	assert.Equal(t, 0, m.Len())
}

func TestMemoryNoTTLAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Set(ctx, "k", []byte("v"), 0))
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryPurge(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory()
	m.now = func() time.Time { return now }
	require.NoError(t, m.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, m.Set(ctx, "b", []byte("2"), time.Hour))

	now = now.Add(time.Minute)
	assert.Equal(t, 1, m.Purge())
	assert.Equal(t, 1, m.Len())
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, time.Minute))
	buf[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type payload struct {
		Month string  `json:"month"`
		Total float64 `json:"total"`
	}
	var out payload
	hit, err := GetJSON(ctx, m, "agg", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, SetJSON(ctx, m, "agg", payload{Month: "2024-05", Total: 12.5}, time.Minute))
	hit, err = GetJSON(ctx, m, "agg", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload{Month: "2024-05", Total: 12.5}, out)

	require.NoError(t, m.Set(ctx, "bad", []byte("{"), time.Minute))
	_, err = GetJSON(ctx, m, "bad", &out)
	assert.Error(t, err)
}

func TestNewRedisRejectsBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "http://not-redis", "reporting")
	assert.Error(t, err)
}

func TestRedisKeyPrefix(t *testing.T) {
	r := &Redis{prefix: "reporting"}
	assert.Equal(t, "reporting:dashboard:2024-05", r.key("dashboard:2024-05"))
	r.prefix = ""
	assert.Equal(t, "k", r.key("k"))
}
