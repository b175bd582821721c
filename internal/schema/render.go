package schema

import (
	"fmt"
	"html"
	"strings"

	"vnml-server/internal/markup"
	"vnml-server/shared/models"
)

// TurnMarkup возвращает разметку хода для контекста генератора: исходный текст
// фрагмента байт в байт, вместе с комментариями и границами элементов. Действие,
// выбранное игроком уже после фиксации, дописывается элементом <action>
// (внутрь корня <vnml>, если он есть).
func TurnMarkup(turn models.Turn) string {
	raw := turn.Raw
	if turn.ChosenAction == nil || hasAction(raw) {
		return raw
	}

	var action strings.Builder
	writeElement(&action, ElemAction, nil, *turn.ChosenAction)

	body := strings.TrimRight(raw, " \t\r\n")
	closing := "</" + ElemRoot + ">"
	if strings.HasSuffix(body, closing) {
		head := body[:len(body)-len(closing)]
		return head + action.String() + closing + raw[len(body):]
	}
	if raw != "" && !strings.HasSuffix(raw, "\n") {
		raw += "\n"
	}
	return raw + action.String()
}

func hasAction(raw string) bool {
	for _, tok := range markup.Tokens(raw) {
		if (tok.Kind == markup.OpenTag || tok.Kind == markup.SelfClosingTag) && tok.Name == ElemAction {
			return true
		}
	}
	return false
}

// RenderSetup сериализует блок настройки.
func RenderSetup(setup *models.Setup) string {
	var b strings.Builder
	writeComments(&b, setup.Comments)
	fmt.Fprintf(&b, "<%s %s=\"%s\">\n", ElemStory, AttrTitle, html.EscapeString(setup.Title))
	if setup.Description != "" {
		b.WriteString(html.EscapeString(setup.Description))
		b.WriteByte('\n')
	}

	var npcs []models.Character
	var player *models.Character
	for i, c := range setup.Characters {
		switch c.Kind {
		case models.CharacterKindNPC:
			npcs = append(npcs, c)
		case models.CharacterKindPlayer:
			player = &setup.Characters[i]
		}
	}
	if len(npcs) > 0 {
		b.WriteString("<npcs>\n")
		for _, c := range npcs {
			writeSetupCharacter(&b, ElemNPC, c)
		}
		b.WriteString("</npcs>\n")
	}
	if player != nil {
		writeSetupCharacter(&b, ElemPlayer, *player)
	}
	if len(setup.Relationships) > 0 {
		b.WriteString("<relationships>\n")
		for _, r := range setup.Relationships {
			writeElement(&b, ElemRelationship, []attr{
				{AttrFrom, r.From}, {AttrTo, r.To}, {AttrCategory, string(r.Category)}, {AttrType, r.Type},
			}, r.Description)
		}
		b.WriteString("</relationships>\n")
	}
	fmt.Fprintf(&b, "</%s>\n", ElemStory)
	return b.String()
}

type attr struct {
	name, value string
}

func writeComments(b *strings.Builder, comments []string) {
	for _, c := range comments {
		fmt.Fprintf(b, "<!-- %s -->\n", c)
	}
}

func writeElement(b *strings.Builder, name string, attrs []attr, text string) {
	b.WriteByte('<')
	b.WriteString(name)
	for _, a := range attrs {
		if a.value == "" {
			continue
		}
		fmt.Fprintf(b, " %s=\"%s\"", a.name, html.EscapeString(a.value))
	}
	if text == "" {
		b.WriteString("/>\n")
		return
	}
	b.WriteByte('>')
	b.WriteString(html.EscapeString(text))
	fmt.Fprintf(b, "</%s>\n", name)
}

func writeSetupCharacter(b *strings.Builder, elem string, c models.Character) {
	writeElement(b, elem, []attr{
		{AttrName, c.Name},
		{AttrIdentifier, c.Appearance.Identifier},
		{AttrClothes, c.Appearance.Clothes},
		{AttrEmotion, c.Appearance.Emotion},
	}, c.Persona)
}
