package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreSetGetRoundTrip(t *testing.T) {
	s := New(nil, "test")
	ctx := context.Background()
	s.Set(ctx, "a", []byte("hello"), time.Minute)
	b, ok := s.Get(ctx, "a")
	require.True(t, ok)
	require.Equal(t, "hello", string(b))
}

func TestStoreExpiry(t *testing.T) {
	s := New(nil, "test")
	ctx := context.Background()
	s.Set(ctx, "a", []byte("hello"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := s.Get(ctx, "a")
	require.False(t, ok)
}

func TestStoreJSONRoundTrip(t *testing.T) {
	s := New(nil, "test")
	ctx := context.Background()
	type payload struct {
		Name string `json:"name"`
	}
	s.SetJSON(ctx, "p", payload{Name: "alice"}, time.Minute)
	var got payload
	require.True(t, s.GetJSON(ctx, "p", &got))
	require.Equal(t, "alice", got.Name)
}

func TestStoreDelete(t *testing.T) {
	s := New(nil, "test")
	ctx := context.Background()
	s.Set(ctx, "a", []byte("x"), time.Minute)
	s.Delete(ctx, "a")
	_, ok := s.Get(ctx, "a")
	require.False(t, ok)
}
