package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakauchipilates-dotcom/ShapeNote-sub001/internal/models"
)

func premiumUntil(expires time.Time) models.EntitlementState {
	started := expires.AddDate(0, -1, 0)
	return models.EntitlementState{
		Tier:      models.TierPremium,
		StartedAt: &started,
		ExpiresAt: &expires,
	}
}

func TestMemoryStoreFetchFreshUser(t *testing.T) {
	s := NewMemoryStore()

	state, err := s.Fetch(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.TierFree, state.Tier)
	assert.Nil(t, state.StartedAt)
	assert.Nil(t, state.ExpiresAt)
}

func TestMemoryStoreUpsertAssignsUpdatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Upsert(ctx, "u1", premiumUntil(time.Now().Add(time.Hour))))

	state, err := s.Fetch(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierPremium, state.Tier)
	require.NotNil(t, state.UpdatedAt, "updatedAt is assigned by the store")
}

func TestMemoryStoreListenDeliversInitialThenWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.EntitlementState
	cancel, err := s.Listen(ctx, "u1", func(state models.EntitlementState) {
		mu.Lock()
		seen = append(seen, state)
		mu.Unlock()
	}, nil)
	require.NoError(t, err)
	defer cancel()

	expires := time.Now().Add(time.Hour).UTC()
	require.NoError(t, s.Upsert(ctx, "u1", premiumUntil(expires)))
	downgrade := models.EntitlementState{Tier: models.TierFree}
	require.NoError(t, s.Upsert(ctx, "u1", downgrade))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// initial state, then each write in order
	assert.Equal(t, models.TierFree, seen[0].Tier)
	assert.Equal(t, models.TierPremium, seen[1].Tier)
	assert.Equal(t, models.TierFree, seen[2].Tier)
	assert.Nil(t, seen[2].ExpiresAt)
}

func TestMemoryStoreListenIncludesOwnWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got := make(chan models.EntitlementState, 8)
	cancel, err := s.Listen(ctx, "u1", func(state models.EntitlementState) { got <- state }, nil)
	require.NoError(t, err)
	defer cancel()

	<-got // initial
	require.NoError(t, s.Upsert(ctx, "u1", premiumUntil(time.Now().Add(time.Hour))))

	select {
	case state := <-got:
		assert.Equal(t, models.TierPremium, state.Tier)
	case <-time.After(time.Second):
		t.Fatal("write by the same process was not delivered")
	}
}

func TestMemoryStoreCancelStopsDelivery(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var mu sync.Mutex
	count := 0
	cancel, err := s.Listen(ctx, "u1", func(models.EntitlementState) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, s.Upsert(ctx, "u1", premiumUntil(time.Now().Add(time.Hour))))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count, "no delivery after cancel")
}

func TestMemoryStoreListenersAreIndependentPerUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	got := make(chan models.EntitlementState, 8)
	cancel, err := s.Listen(ctx, "u1", func(state models.EntitlementState) { got <- state }, nil)
	require.NoError(t, err)
	defer cancel()

	<-got // initial
	require.NoError(t, s.Upsert(ctx, "other", premiumUntil(time.Now().Add(time.Hour))))

	select {
	case <-got:
		t.Fatal("received a delivery for another user's document")
	case <-time.After(50 * time.Millisecond):
	}
}
