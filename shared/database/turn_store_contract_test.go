package database_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"vnml-server/shared/interfaces"
	"vnml-server/shared/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSetup() models.Setup {
	return models.Setup{
		Title: "Ruins",
		Characters: []models.Character{
			{Name: "Tharok", Kind: models.CharacterKindNPC, Appearance: models.Appearance{Identifier: "orc_warrior", Clothes: "iron armor"}},
			{Name: "Mira", Kind: models.CharacterKindPlayer, Appearance: models.Appearance{Identifier: "ranger_f"}},
		},
	}
}

func newRecord(createdAt time.Time) *models.SessionRecord {
	return &models.SessionRecord{
		ID:        uuid.New().String(),
		Title:     "Ruins",
		Setup:     testSetup(),
		SetupRaw:  `<story title="Ruins"></story>`,
		CreatedAt: createdAt,
	}
}

func testTurn(seq int) models.Turn {
	return models.Turn{
		Seq:    seq,
		Scene:  models.Scene{Background: []string{"ruins"}, Music: []string{"drums"}},
		Scenes: []models.Scene{{Background: []string{"ruins"}, Music: []string{"drums"}}},
		Dialogue: []models.DialogueEvent{{
			Type: models.EventLine, Speaker: "Tharok", Text: fmt.Sprintf("Line %d", seq),
			Identifier: "orc_warrior", Clothes: "iron armor", Emotion: "wary", Kind: models.CharacterKindNPC, SceneIndex: 0,
		}},
		Options: models.OptionsBlock{Title: "Now?", Options: []models.Option{
			{Index: 0, Text: "Search the ruins"},
			{Index: 1, Text: "Leave"},
		}},
		Raw:         fmt.Sprintf("<dialogue>turn %d</dialogue>", seq),
		CommittedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// runTurnStoreContract проверяет поведение, общее для всех реализаций TurnStore.
func runTurnStoreContract(t *testing.T, newStore func(t *testing.T) interfaces.TurnStore) {
	ctx := context.Background()

	t.Run("create and load empty session", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord(time.Now().UTC().Truncate(time.Millisecond))
		require.NoError(t, store.CreateSession(ctx, rec))

		loaded, turns, err := store.LoadSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.Empty(t, turns)
		assert.Equal(t, rec.ID, loaded.ID)
		assert.Equal(t, "Ruins", loaded.Setup.Title)
		assert.Len(t, loaded.Setup.Characters, 2)
		assert.Equal(t, models.ActionPolicyStrict, loaded.ActionPolicy)
		assert.False(t, loaded.Closed)

		err = store.CreateSession(ctx, &models.SessionRecord{ID: rec.ID, Setup: testSetup()})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("unknown session", func(t *testing.T) {
		store := newStore(t)
		_, _, err := store.LoadSession(ctx, uuid.New().String())
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.ErrorIs(t, store.AppendTurn(ctx, uuid.New().String(), testTurn(0)), models.ErrNotFound)
		assert.ErrorIs(t, store.CloseSession(ctx, uuid.New().String()), models.ErrNotFound)
	})

	t.Run("append enforces sequence", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord(time.Time{})
		require.NoError(t, store.CreateSession(ctx, rec))

		assert.ErrorIs(t, store.AppendTurn(ctx, rec.ID, testTurn(1)), models.ErrSequenceConflict)
		require.NoError(t, store.AppendTurn(ctx, rec.ID, testTurn(0)))
		require.NoError(t, store.RecordAction(ctx, rec.ID, 0, "Search the ruins", models.ActionPolicyStrict))
		require.NoError(t, store.AppendTurn(ctx, rec.ID, testTurn(1)))
		assert.ErrorIs(t, store.AppendTurn(ctx, rec.ID, testTurn(1)), models.ErrSequenceConflict)
		assert.ErrorIs(t, store.AppendTurn(ctx, rec.ID, testTurn(3)), models.ErrSequenceConflict)

		loaded, turns, err := store.LoadSession(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, 2, loaded.TurnCount)
		for i, turn := range turns {
			want := testTurn(i)
			assert.Equal(t, i, turn.Seq)
			assert.Equal(t, want.Raw, turn.Raw)
			assert.Equal(t, want.Dialogue, turn.Dialogue)
			assert.Equal(t, want.Options, turn.Options)
			assert.Equal(t, want.Scene, turn.Scene)
		}
		require.NotNil(t, turns[0].ChosenAction)
		assert.Equal(t, "Search the ruins", *turns[0].ChosenAction)
		assert.Equal(t, models.ActionPolicyStrict, turns[0].ActionPolicy)
		assert.True(t, turns[1].Pending())
	})

	t.Run("record action once on latest turn", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord(time.Time{})
		require.NoError(t, store.CreateSession(ctx, rec))
		require.NoError(t, store.AppendTurn(ctx, rec.ID, testTurn(0)))

		assert.ErrorIs(t, store.RecordAction(ctx, rec.ID, 1, "Leave", models.ActionPolicyStrict), models.ErrSequenceConflict)
		require.NoError(t, store.RecordAction(ctx, rec.ID, 0, "climb the wall", models.ActionPolicyFreeForm))
		assert.ErrorIs(t, store.RecordAction(ctx, rec.ID, 0, "Leave", models.ActionPolicyStrict), models.ErrSequenceConflict)

		_, turns, err := store.LoadSession(ctx, rec.ID)
		require.NoError(t, err)
		require.NotNil(t, turns[0].ChosenAction)
		assert.Equal(t, "climb the wall", *turns[0].ChosenAction)
		assert.Equal(t, models.ActionPolicyFreeForm, turns[0].ActionPolicy)
	})

	t.Run("list newest first with paging", func(t *testing.T) {
		store := newStore(t)
		base := time.Now().UTC().Truncate(time.Millisecond)
		var ids []string
		for i := 0; i < 3; i++ {
			rec := newRecord(base.Add(time.Duration(i) * time.Second))
			require.NoError(t, store.CreateSession(ctx, rec))
			ids = append(ids, rec.ID)
		}

		page, err := store.ListSessions(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		page, err = store.ListSessions(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, ids[0], page[0].ID)

		page, err = store.ListSessions(ctx, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("close session", func(t *testing.T) {
		store := newStore(t)
		rec := newRecord(time.Time{})
		require.NoError(t, store.CreateSession(ctx, rec))
		require.NoError(t, store.CloseSession(ctx, rec.ID))

		loaded, _, err := store.LoadSession(ctx, rec.ID)
		require.NoError(t, err)
		assert.True(t, loaded.Closed)
	})
}
