package render

import (
	"testing"

	"vnml-server/shared/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCues_SceneOrder(t *testing.T) {
	turn := models.Turn{
		Seq: 3,
		Scenes: []models.Scene{
			{Background: []string{"gate"}, Music: []string{"drums"}},
			{Background: []string{"hall"}, Music: []string{"silence"}},
		},
		Dialogue: []models.DialogueEvent{
			{Type: models.EventNarration, Text: "The fog thickens over the road.", SceneIndex: -1},
			{Type: models.EventLine, Speaker: "Tharok", Identifier: "orc_warrior", Clothes: "iron armor", Emotion: "angry", Text: "Halt. Who goes there?", SceneIndex: 0},
			{Type: models.EventSoundEffect, Keywords: []string{"door", "creak"}, Duration: 1.5, SceneIndex: 1},
		},
	}

	cues := Cues(turn)
	require.Len(t, cues, 5)

	types := make([]models.CueType, len(cues))
	for i, c := range cues {
		types[i] = c.Type
		assert.Equal(t, 3, c.Seq)
		assert.Equal(t, i, c.Index)
	}
	assert.Equal(t, []models.CueType{models.CueNarrate, models.CueDisplay, models.CueSpeak, models.CueDisplay, models.CueSound}, types)

	assert.Equal(t, []string{"gate"}, cues[1].Background)
	assert.Equal(t, "Tharok", cues[2].Speaker)
	assert.Equal(t, "iron armor", cues[2].Clothes)
	assert.Equal(t, []string{"Halt. Who goes there?"}, cues[2].Sentences)
	assert.Equal(t, []string{"hall"}, cues[3].Background)
	assert.Equal(t, 1.5, cues[4].Duration)
}

func TestCues_TrailingScene(t *testing.T) {
	turn := models.Turn{
		Scenes:   []models.Scene{{Background: []string{"camp"}}},
		Dialogue: []models.DialogueEvent{{Type: models.EventNarration, Text: "Night falls.", SceneIndex: -1}},
	}
	cues := Cues(turn)
	require.Len(t, cues, 2)
	assert.Equal(t, models.CueNarrate, cues[0].Type)
	assert.Equal(t, models.CueDisplay, cues[1].Type)
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "  ", nil},
		{"single", "The fog rolls in over the ruins", []string{"The fog rolls in over the ruins"}},
		{"two", "The fog rolls in over the ruins. Drums echo far away.", []string{"The fog rolls in over the ruins.", "Drums echo far away."}},
		{"short head merged", "Halt. Who goes there? Speak your name!", []string{"Halt. Who goes there?", "Speak your name!"}},
		{"short tail merged", "We march at dawn, all of us. Go.", []string{"We march at dawn, all of us. Go."}},
		{"newline", "First line of the song\nSecond line of the song", []string{"First line of the song", "Second line of the song"}},
		{"cjk", "今天的天气非常好，我们出发吧。路上一定要小心一点啊朋友！", []string{"今天的天气非常好，我们出发吧。", "路上一定要小心一点啊朋友！"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSentences(tt.in))
		})
	}
}
