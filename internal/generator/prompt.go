package generator

import (
	"fmt"
	"strings"

	"vnml-server/internal/schema"
	"vnml-server/shared/models"
)

// SystemPrompt описывает модели грамматику разметки.
const SystemPrompt = `You write one turn of an interactive visual novel in the vnml markup dialect.

Output exactly one fragment and nothing else: no prose outside tags, no code fences.
Top-level order: one or more <scene> or <dialogue> elements, then exactly one <options>.
You may wrap the fragment in <vnml>...</vnml>. XML comments are allowed anywhere.

<scene> replaces the active scene and must contain <background> then <music>,
each a comma-separated list of keywords.
<dialogue> holds one or more events:
  <narration>text</narration>
  <character name="Name" emotion="word" clothes="items" identifier="id">spoken text</character>
  <sound_effect duration="seconds">comma, separated, keywords</sound_effect>
Only declared characters may speak. A new minor character must declare itself with
kind="passerby" and set identifier, clothes and emotion; it is forgotten when the scene changes.
Never change a character's identifier. Omit emotion or clothes to keep the previous value;
emotion is a single word.
<options> starts with <title> followed by one or more <option> elements.`

// BuildContext собирает разметку настройки и последних ходов в пределах бюджета токенов.
// Настройка включается всегда; ходы добавляются от новых к старым, пока помещаются.
func BuildContext(state models.SessionState, counter *TokenCounter, budget int) string {
	setup := schema.RenderSetup(&state.Setup)
	used := counter.Count(SystemPrompt) + counter.Count(setup)

	var included []string
	for i := len(state.Turns) - 1; i >= 0; i-- {
		rendered := turnContext(state.Turns[i])
		cost := counter.Count(rendered)
		if used+cost > budget && len(included) > 0 {
			break
		}
		used += cost
		included = append(included, rendered)
	}

	var b strings.Builder
	b.WriteString(setup)
	if omitted := len(state.Turns) - len(included); omitted > 0 {
		b.WriteString("<!-- earlier turns omitted -->\n")
	}
	for i := len(included) - 1; i >= 0; i-- {
		b.WriteString(included[i])
	}
	return b.String()
}

// turnContext - исходная разметка хода с пометкой номера.
func turnContext(turn models.Turn) string {
	body := schema.TurnMarkup(turn)
	if !strings.HasSuffix(body, "\n") {
		body += "\n"
	}
	return fmt.Sprintf("<!-- turn %d -->\n%s", turn.Seq, body)
}
