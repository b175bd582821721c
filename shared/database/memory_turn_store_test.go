package database_test

import (
	"context"
	"sync"
	"testing"

	"vnml-server/shared/database"
	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryTurnStore(t *testing.T) {
	runTurnStoreContract(t, func(t *testing.T) interfaces.TurnStore {
		return database.NewMemoryTurnStore(zap.NewNop())
	})
}

func TestMemoryTurnStore_ConcurrentAppendSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryTurnStore(zap.NewNop())
	rec := newRecord(testTurn(0).CommittedAt)
	require.NoError(t, store.CreateSession(ctx, rec))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.AppendTurn(ctx, rec.ID, testTurn(0))
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, models.ErrSequenceConflict)
	}
	assert.Equal(t, 1, succeeded)
}

func TestMemoryTurnStore_LoadReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryTurnStore(zap.NewNop())
	rec := newRecord(testTurn(0).CommittedAt)
	require.NoError(t, store.CreateSession(ctx, rec))
	require.NoError(t, store.AppendTurn(ctx, rec.ID, testTurn(0)))

	_, turns, err := store.LoadSession(ctx, rec.ID)
	require.NoError(t, err)
	turns[0].Dialogue[0].Text = "mutated"

	_, again, err := store.LoadSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Line 0", again[0].Dialogue[0].Text)
}
