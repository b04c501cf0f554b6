package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xeideverme/galpao/internal/domain/achievement"
	"github.com/Xeideverme/galpao/internal/domain/shared"
	"github.com/Xeideverme/galpao/internal/infrastructure/persistence/memory"
)

func TestSeed_Idempotent(t *testing.T) {
	ctx := context.Background()
	clock := shared.FixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := memory.NewStore(memory.WithClock(clock)).Catalog()

	defs, err := achievement.DefaultCatalog("", clock())
	require.NoError(t, err)

	created, skipped, err := Seed(ctx, repo, "", clock, true)
	require.NoError(t, err)
	assert.Equal(t, len(defs), created)
	assert.Zero(t, skipped)
	all, err := repo.List(ctx, achievement.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all, "dry run must not write")

	created, _, err = Seed(ctx, repo, "", clock, false)
	require.NoError(t, err)
	assert.Equal(t, len(defs), created)

	created, skipped, err = Seed(ctx, repo, "", clock, false)
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Equal(t, len(defs), skipped)
}

func TestSeed_StoreDown(t *testing.T) {
	store := memory.NewStore()
	store.Fail("Create", shared.ErrLedgerUnavailable)

	_, _, err := Seed(context.Background(), store.Catalog(), "", shared.SystemClock, false)
	assert.Error(t, err)
}
