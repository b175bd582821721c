package schema_test

import (
	"errors"
	"testing"

	"vnml-server/internal/schema"
	"vnml-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validSetup = `<!-- campaign one -->
<story title="The Ruins of Kharos">
A border fort fallen to silence.
<npcs>
  <npc name="Tharok" identifier="orc_warrior" clothes="iron armor" emotion="stern">Veteran guard, slow to trust.</npc>
  <npc name="Eldric" identifier="old_mage">Scholar of the old empire.</npc>
</npcs>
<player name="Mira" identifier="ranger_f" clothes="leather cloak"/>
<relationships>
  <relationship from="Tharok" to="Eldric" category="formal" type="escort">Paid to protect him.</relationship>
  <relationship from="Eldric" to="Mira" category="hidden" type="debt"/>
</relationships>
</story>`

func TestParseSetup_Valid(t *testing.T) {
	setup, err := schema.ParseSetup(validSetup)
	require.NoError(t, err)

	assert.Equal(t, "The Ruins of Kharos", setup.Title)
	assert.Equal(t, "A border fort fallen to silence.", setup.Description)
	assert.Equal(t, []string{"campaign one"}, setup.Comments)
	require.Len(t, setup.Characters, 3)

	tharok, ok := setup.Character("Tharok")
	require.True(t, ok)
	assert.Equal(t, models.CharacterKindNPC, tharok.Kind)
	assert.Equal(t, models.Appearance{Identifier: "orc_warrior", Clothes: "iron armor", Emotion: "stern"}, tharok.Appearance)
	assert.Equal(t, "Veteran guard, slow to trust.", tharok.Persona)

	player, ok := setup.Player()
	require.True(t, ok)
	assert.Equal(t, "Mira", player.Name)
	assert.Empty(t, player.Appearance.Emotion)

	require.Len(t, setup.Relationships, 2)
	assert.Equal(t, models.RelationshipHidden, setup.Relationships[1].Category)
	assert.Equal(t, "Paid to protect him.", setup.Relationships[0].Description)
}

func TestParseSetup_RenderRoundTrip(t *testing.T) {
	setup, err := schema.ParseSetup(validSetup)
	require.NoError(t, err)

	again, err := schema.ParseSetup(schema.RenderSetup(setup))
	require.NoError(t, err)
	assert.Equal(t, setup, again)
}

func TestParseSetup_Errors(t *testing.T) {
	const npcs = `<npcs><npc name="A" identifier="a"/></npcs>`
	const player = `<player name="P" identifier="p"/>`
	tests := []struct {
		name    string
		src     string
		element string
		field   string
	}{
		{"empty input", ``, "story", ""},
		{"missing title", `<story>` + npcs + player + `</story>`, "story", "title"},
		{"missing player", `<story title="T">` + npcs + `</story>`, "story", ""},
		{"two players", `<story title="T">` + player + player + `</story>`, "player", ""},
		{"empty npcs", `<story title="T"><npcs></npcs>` + player + `</story>`, "npcs", ""},
		{"npc without identifier", `<story title="T"><npcs><npc name="A"/></npcs>` + player + `</story>`, "npc", "identifier"},
		{"multi token emotion", `<story title="T"><npcs><npc name="A" identifier="a" emotion="very sad"/></npcs>` + player + `</story>`, "npc", "emotion"},
		{"duplicate name", `<story title="T"><npcs><npc name="P" identifier="a"/></npcs>` + player + `</story>`, "player", "name"},
		{"unknown reference", `<story title="T">` + npcs + player + `<relationships><relationship from="A" to="Ghost" category="formal" type="x"/></relationships></story>`, "relationship", ""},
		{"bad category", `<story title="T">` + npcs + player + `<relationships><relationship from="A" to="P" category="secret" type="x"/></relationships></story>`, "relationship", "category"},
		{"duplicate relationship", `<story title="T">` + npcs + player + `<relationships><relationship from="A" to="P" category="formal" type="x"/><relationship from="A" to="P" category="hidden" type="x"/></relationships></story>`, "relationship", "type"},
		{"unknown element", `<story title="T"><villain name="V"/></story>`, "villain", ""},
		{"truncated", `<story title="T">` + npcs + `<player name="P"`, "player", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setup, err := schema.ParseSetup(tt.src)
			assert.Nil(t, setup)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrSetup))

			var setupErr *models.SetupError
			require.True(t, errors.As(err, &setupErr), "expected *models.SetupError, got %T", err)
			assert.Equal(t, tt.element, setupErr.Element, setupErr.Error())
			assert.Equal(t, tt.field, setupErr.Field, setupErr.Error())
		})
	}
}
