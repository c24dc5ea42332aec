package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestNormalizeIdempotent(t *testing.T) {
	zero := time.Time{}
	inputs := []EntitlementState{
		{},
		{Tier: "premium"},
		{Tier: "free"},
		{Tier: "gold"},
		{Tier: TierPremium, StartedAt: tsp("2024-01-01T00:00:00Z"), ExpiresAt: tsp("2024-02-01T00:00:00Z")},
		{Tier: TierPremium, StartedAt: &zero, ExpiresAt: &zero},
		{Tier: TierFree, UpdatedAt: tsp("2024-03-01T12:00:00+09:00")},
	}

	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once)
		assert.Equal(t, once, twice, "Normalize must be idempotent for %+v", input)
	}
}

func TestNormalizeCollapsesAmbiguity(t *testing.T) {
	zero := time.Time{}

	s := Normalize(EntitlementState{Tier: "unknown", StartedAt: &zero})
	assert.Equal(t, TierFree, s.Tier)
	assert.Nil(t, s.StartedAt)

	// explicit-null and missing collapse to the same shape
	a := Normalize(EntitlementState{Tier: TierFree, ExpiresAt: &zero})
	b := Normalize(EntitlementState{Tier: TierFree})
	assert.Equal(t, a, b)

	// times converge to UTC
	c := Normalize(EntitlementState{Tier: TierPremium, ExpiresAt: tsp("2024-02-01T09:00:00+09:00")})
	assert.Equal(t, time.UTC, c.ExpiresAt.Location())
}

func TestIsActiveFreeIsNeverActive(t *testing.T) {
	nows := []time.Time{
		ts("1970-01-01T00:00:00Z"),
		ts("2024-01-15T00:00:00Z"),
		ts("2999-12-31T23:59:59Z"),
	}
	state := EntitlementState{Tier: TierFree, ExpiresAt: tsp("2999-01-01T00:00:00Z")}
	for _, now := range nows {
		assert.False(t, IsActive(state, now))
	}
}

func TestIsActiveExpiryBoundary(t *testing.T) {
	state := EntitlementState{
		Tier:      TierPremium,
		StartedAt: tsp("2024-01-01T00:00:00Z"),
		ExpiresAt: tsp("2024-02-01T00:00:00Z"),
	}

	assert.True(t, IsActive(state, ts("2024-01-15T00:00:00Z")))
	assert.True(t, IsActive(state, ts("2024-01-31T23:59:59Z")))
	// now == expiresAt is already inactive
	assert.False(t, IsActive(state, ts("2024-02-01T00:00:00Z")))
	assert.False(t, IsActive(state, ts("2024-02-02T00:00:00Z")))
}

func TestIsActiveLifetimeGrant(t *testing.T) {
	state := EntitlementState{Tier: TierPremium}
	for _, now := range []time.Time{ts("2024-01-01T00:00:00Z"), ts("2999-12-31T00:00:00Z")} {
		assert.True(t, IsActive(state, now), "premium without expiry is a lifetime grant")
	}
}

func TestEqualIgnoresUpdatedAt(t *testing.T) {
	a := EntitlementState{
		Tier:      TierPremium,
		ExpiresAt: tsp("2024-02-01T00:00:00Z"),
		UpdatedAt: tsp("2024-01-01T00:00:00Z"),
	}
	b := a
	b.UpdatedAt = tsp("2024-01-20T00:00:00Z")
	assert.True(t, Equal(a, b))

	b.ExpiresAt = tsp("2024-03-01T00:00:00Z")
	assert.False(t, Equal(a, b))
}

func TestDefaultEntitlement(t *testing.T) {
	s := DefaultEntitlement()
	assert.Equal(t, TierFree, s.Tier)
	assert.Nil(t, s.StartedAt)
	assert.Nil(t, s.ExpiresAt)
}
