package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestAdmitGroup(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	admitted, err := s.AdmitGroup(ctx, "abc-123")
	require.NoError(t, err)
	assert.True(t, admitted)

	// A second request with the same uid is a duplicate.
	admitted, err = s.AdmitGroup(ctx, "abc-123")
	require.NoError(t, err)
	assert.False(t, admitted)

	// A different uid is independent.
	admitted, err = s.AdmitGroup(ctx, "def-456")
	require.NoError(t, err)
	assert.True(t, admitted)

	// The claim expires after a day.
	mr.FastForward(25 * time.Hour)
	admitted, err = s.AdmitGroup(ctx, "abc-123")
	require.NoError(t, err)
	assert.True(t, admitted)
}

func TestEventRefStable(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	extra := map[string]any{"b": 2, "a": 1}
	ref1 := EventRef("ext-42", ts, "delivered", extra)
	ref2 := EventRef("ext-42", ts, "delivered", map[string]any{"a": 1, "b": 2})
	assert.Equal(t, ref1, ref2)
	assert.Contains(t, ref1, "event-")

	// Any field change yields a different ref.
	assert.NotEqual(t, ref1, EventRef("ext-43", ts, "delivered", extra))
	assert.NotEqual(t, ref1, EventRef("ext-42", ts.Add(time.Millisecond), "delivered", extra))
	assert.NotEqual(t, ref1, EventRef("ext-42", ts, "opened", extra))
}

func TestEventSeen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ref := EventRef("ext-7", time.UnixMilli(1700000000000), "delivered", nil)

	seen, err := s.EventSeen(ctx, ref)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.EventSeen(ctx, ref)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestClickSeen(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	seen, err := s.ClickSeen(ctx, 99, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.ClickSeen(ctx, 99, "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, seen)

	// Another IP on the same link is not deduped.
	seen, err = s.ClickSeen(ctx, 99, "5.6.7.8")
	require.NoError(t, err)
	assert.False(t, seen)

	// The window is 60s.
	mr.FastForward(61 * time.Second)
	seen, err = s.ClickSeen(ctx, 99, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSpamVerdict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	verdict, err := s.SpamVerdict(ctx, "<p>hello</p>", "acme")
	require.NoError(t, err)
	assert.Empty(t, verdict)

	require.NoError(t, s.SetSpamVerdict(ctx, "<p>hello</p>", "acme", "ham"))

	verdict, err = s.SpamVerdict(ctx, "<p>hello</p>", "acme")
	require.NoError(t, err)
	assert.Equal(t, "ham", verdict)

	// The cache is scoped per company.
	verdict, err = s.SpamVerdict(ctx, "<p>hello</p>", "other")
	require.NoError(t, err)
	assert.Empty(t, verdict)
}

func TestRates(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	has, err := s.HasRates(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, s.SetRates(ctx, map[string]string{"234": "0.034", "310": "0.009"}))

	has, err = s.HasRates(ctx)
	require.NoError(t, err)
	assert.True(t, has)

	rate, found, err := s.Rate(ctx, "234")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "0.034", rate)

	_, found, err = s.Rate(ctx, "999")
	require.NoError(t, err)
	assert.False(t, found)

	mr.FastForward(25 * time.Hour)
	has, err = s.HasRates(ctx)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCountryMCC(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	mcc, err := s.CountryMCC(ctx, "GB")
	require.NoError(t, err)
	assert.Empty(t, mcc)

	require.NoError(t, s.SetCountryMCC(ctx, "GB", "234"))

	mcc, err = s.CountryMCC(ctx, "GB")
	require.NoError(t, err)
	assert.Equal(t, "234", mcc)
}
