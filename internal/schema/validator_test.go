package schema_test

import (
	"errors"
	"strings"
	"testing"

	"vnml-server/internal/schema"
	"vnml-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validFragment = `<vnml>
<!-- turn: the ruins -->
<scene>
  <background>ruins, moonlight</background>
  <music>low drums</music>
</scene>
<dialogue>
  <narration>Wind moves through the broken arches.</narration>
  <character name="Tharok" clothes="iron armor" emotion="wary">Something is down there.</character>
  <sound_effect duration="1.5">stone, crumbling</sound_effect>
</dialogue>
<options>
  <title>What do you do?</title>
  <option>Search the ruins</option>
  <option>Explore the hidden passageway</option>
</options>
</vnml>`

func requireSchemaError(t *testing.T, err error) *models.SchemaError {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrSchema))
	var schemaErr *models.SchemaError
	require.True(t, errors.As(err, &schemaErr), "expected *models.SchemaError, got %T", err)
	return schemaErr
}

func TestValidator_ValidFragment(t *testing.T) {
	v := schema.NewValidator(schema.Policy{MinDialogueEvents: 2})
	frag, warnings, err := v.ValidateText(validFragment)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, []models.ElementKind{models.ElementScene, models.ElementDialogue, models.ElementOptions}, frag.Order)
	require.Len(t, frag.Scenes, 1)
	assert.Equal(t, []string{"ruins", "moonlight"}, frag.Scenes[0].Background)
	assert.Equal(t, []string{"low drums"}, frag.Scenes[0].Music)
	assert.Equal(t, []string{"turn: the ruins"}, frag.Comments)

	require.Len(t, frag.Dialogue, 3)
	line := frag.Dialogue[1]
	assert.Equal(t, models.EventLine, line.Type)
	assert.Equal(t, "Tharok", line.Speaker)
	assert.Equal(t, "iron armor", line.Clothes)
	assert.Equal(t, "wary", line.Emotion)
	assert.Equal(t, 0, line.SceneIndex)

	sfx := frag.Dialogue[2]
	assert.Equal(t, models.EventSoundEffect, sfx.Type)
	assert.Equal(t, 1.5, sfx.Duration)
	assert.Equal(t, []string{"stone", "crumbling"}, sfx.Keywords)

	assert.Equal(t, "What do you do?", frag.Options.Title)
	assert.Equal(t, []string{"Search the ruins", "Explore the hidden passageway"}, frag.Options.Texts())
	assert.Equal(t, 1, frag.Options.Options[1].Index)
	assert.Nil(t, frag.Action)
}

func TestValidator_NoRootAndTrailingAction(t *testing.T) {
	src := `<dialogue><narration>Later.</narration></dialogue>
<options><title>Next</title><option>Wait</option></options>
<action>Wait</action>`
	frag, _, err := schema.NewValidator(schema.Policy{}).ValidateText(src)
	require.NoError(t, err)
	require.NotNil(t, frag.Action)
	assert.Equal(t, "Wait", *frag.Action)
	assert.Equal(t, -1, frag.Dialogue[0].SceneIndex)
}

func TestValidator_SchemaErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		kind    models.SchemaErrorKind
		element string
	}{
		{
			name:    "action before options",
			src:     `<dialogue><narration>x</narration></dialogue><action>Go</action><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaBadOrdering,
			element: "action",
		},
		{
			name:    "options without option",
			src:     `<dialogue><narration>x</narration></dialogue><options><title>T</title></options>`,
			kind:    models.SchemaEmptyRequiredSection,
			element: "options",
		},
		{
			name:    "empty options block",
			src:     `<dialogue><narration>x</narration></dialogue><options></options>`,
			kind:    models.SchemaEmptyRequiredSection,
			element: "options",
		},
		{
			name:    "missing options",
			src:     `<dialogue><narration>x</narration></dialogue>`,
			kind:    models.SchemaMissingRequired,
			element: "fragment",
		},
		{
			name:    "element after action",
			src:     `<dialogue><narration>x</narration></dialogue><options><title>T</title><option>Go</option></options><action>Go</action><dialogue><narration>y</narration></dialogue>`,
			kind:    models.SchemaBadOrdering,
			element: "dialogue",
		},
		{
			name:    "dialogue after options",
			src:     `<dialogue><narration>x</narration></dialogue><options><title>T</title><option>Go</option></options><dialogue><narration>y</narration></dialogue>`,
			kind:    models.SchemaBadOrdering,
			element: "dialogue",
		},
		{
			name:    "unknown element",
			src:     `<dialogue><whisper>x</whisper></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaUnexpectedElement,
			element: "whisper",
		},
		{
			name:    "setup element in fragment",
			src:     `<npc name="A" identifier="b"/>`,
			kind:    models.SchemaUnexpectedElement,
			element: "npc",
		},
		{
			name:    "unknown attribute",
			src:     `<dialogue><character name="Tharok" mood="calm">x</character></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaIllegalAttribute,
			element: "character",
		},
		{
			name:    "attribute on narration",
			src:     `<dialogue><narration voice="deep">x</narration></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaIllegalAttribute,
			element: "narration",
		},
		{
			name:    "character without name",
			src:     `<dialogue><character emotion="calm">x</character></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaMissingRequired,
			element: "character",
		},
		{
			name:    "bad kind",
			src:     `<dialogue><character name="A" kind="npc">x</character></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaIllegalAttribute,
			element: "character",
		},
		{
			name:    "scene without music",
			src:     `<scene><background>a</background></scene><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaMissingRequired,
			element: "scene",
		},
		{
			name:    "empty dialogue",
			src:     `<dialogue></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaEmptyRequiredSection,
			element: "dialogue",
		},
		{
			name:    "stray text",
			src:     `hello <dialogue><narration>x</narration></dialogue>`,
			kind:    models.SchemaUnexpectedElement,
			element: "fragment",
		},
		{
			name:    "mismatched close",
			src:     `<dialogue><narration>x</dialogue>`,
			kind:    models.SchemaUnexpectedElement,
			element: "dialogue",
		},
		{
			name:    "zero duration",
			src:     `<dialogue><sound_effect duration="0">boom</sound_effect></dialogue><options><title>T</title><option>Go</option></options>`,
			kind:    models.SchemaIllegalAttribute,
			element: "sound_effect",
		},
		{
			name:    "title after option",
			src:     `<dialogue><narration>x</narration></dialogue><options><option>Go</option><title>T</title></options>`,
			kind:    models.SchemaBadOrdering,
			element: "title",
		},
	}
	v := schema.NewValidator(schema.Policy{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frag, _, err := v.ValidateText(tt.src)
			assert.Nil(t, frag)
			schemaErr := requireSchemaError(t, err)
			assert.Equal(t, tt.kind, schemaErr.Kind, schemaErr.Error())
			assert.Equal(t, tt.element, schemaErr.Element, schemaErr.Error())
			assert.NotEmpty(t, schemaErr.Hint())
		})
	}
}

func TestValidator_ErrorLocation(t *testing.T) {
	src := "<dialogue>\n  <narration>x</narration>\n  <shout>y</shout>\n</dialogue>"
	_, _, err := schema.NewValidator(schema.Policy{}).ValidateText(src)
	schemaErr := requireSchemaError(t, err)
	assert.Equal(t, 3, schemaErr.Pos.Line)
	assert.Equal(t, 3, schemaErr.Pos.Col)
}

func TestValidator_Truncated(t *testing.T) {
	src := `<scene><background>a</background><music>b</music></scene><dialogue><narration>The fog rol`
	_, _, err := schema.NewValidator(schema.Policy{}).ValidateText(src)
	schemaErr := requireSchemaError(t, err)
	assert.Equal(t, models.SchemaMissingRequired, schemaErr.Kind)
	assert.True(t, schemaErr.Truncated)
}

func TestValidator_MinDialoguePolicy(t *testing.T) {
	src := `<dialogue><narration>x</narration><sound_effect duration="2">thunder</sound_effect></dialogue><options><title>T</title><option>Go</option></options>`
	frag, warnings, err := schema.NewValidator(schema.Policy{MinDialogueEvents: 3}).ValidateText(src)
	require.NoError(t, err)
	require.NotNil(t, frag)
	require.Len(t, warnings, 1)
	assert.Equal(t, 3, warnings[0].Min)
	assert.Equal(t, 1, warnings[0].Actual)
	assert.True(t, errors.Is(&warnings[0], models.ErrContentPolicy))
}

func TestValidator_RequireComment(t *testing.T) {
	src := `<dialogue><narration>x</narration></dialogue><options><title>T</title><option>Go</option></options>`
	v := schema.NewValidator(schema.Policy{RequireComment: true})

	_, _, err := v.ValidateText(src)
	schemaErr := requireSchemaError(t, err)
	assert.Equal(t, "comment", schemaErr.Element)

	_, _, err = v.ValidateText("<!-- author note -->" + src)
	assert.NoError(t, err)
}

func TestTurnMarkup_KeepsFragmentBytes(t *testing.T) {
	src := `<scene><background>ruins</background><music>drums</music></scene>
<dialogue><narration>One.</narration></dialogue>
<!-- mid -->
<dialogue><narration>Two.</narration></dialogue>
<options><title>T</title><option>Go</option></options>`
	v := schema.NewValidator(schema.Policy{})
	frag, _, err := v.ValidateText(src)
	require.NoError(t, err)
	require.Equal(t, []models.ElementKind{
		models.ElementScene, models.ElementDialogue, models.ElementDialogue, models.ElementOptions,
	}, frag.Order)

	out := schema.TurnMarkup(models.Turn{Raw: src})
	assert.Equal(t, src, out)
	again, _, err := v.ValidateText(out)
	require.NoError(t, err)
	assert.Equal(t, frag, again)
}

func TestTurnMarkup_AppendsChosenAction(t *testing.T) {
	v := schema.NewValidator(schema.Policy{})
	body := `<dialogue><narration>One.</narration></dialogue>
<options><title>T</title><option>Go</option></options>`
	action := "Go"

	plain := schema.TurnMarkup(models.Turn{Raw: body, ChosenAction: &action})
	assert.True(t, strings.HasPrefix(plain, body))
	frag, _, err := v.ValidateText(plain)
	require.NoError(t, err)
	require.NotNil(t, frag.Action)
	assert.Equal(t, "Go", *frag.Action)

	wrapped := "<vnml>\n" + body + "\n</vnml>\n"
	out := schema.TurnMarkup(models.Turn{Raw: wrapped, ChosenAction: &action})
	assert.True(t, strings.HasSuffix(out, "<action>Go</action>\n</vnml>\n"), out)
	frag, _, err = v.ValidateText(out)
	require.NoError(t, err)
	require.NotNil(t, frag.Action)

	withAction := body + "\n<action>Go</action>"
	assert.Equal(t, withAction, schema.TurnMarkup(models.Turn{Raw: withAction, ChosenAction: &action}))
}
