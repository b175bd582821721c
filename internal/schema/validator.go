package schema

import (
	"fmt"
	"strconv"
	"strings"

	"vnml-server/internal/markup"
	"vnml-server/shared/models"
)

// Имена элементов фрагмента.
const (
	ElemRoot        = markup.RootElement
	ElemScene       = "scene"
	ElemBackground  = "background"
	ElemMusic       = "music"
	ElemDialogue    = "dialogue"
	ElemNarration   = "narration"
	ElemCharacter   = "character"
	ElemSoundEffect = "sound_effect"
	ElemOptions     = "options"
	ElemTitle       = "title"
	ElemOption      = "option"
	ElemAction      = "action"
)

// Атрибуты реплики персонажа.
const (
	AttrName       = "name"
	AttrEmotion    = "emotion"
	AttrClothes    = "clothes"
	AttrIdentifier = "identifier"
	AttrKind       = "kind"
	AttrDuration   = "duration"
)

var fragmentRules = map[string]rule{
	ElemRoot:        {children: set(ElemScene, ElemDialogue, ElemOptions, ElemAction)},
	ElemScene:       {children: set(ElemBackground, ElemMusic)},
	ElemBackground:  {text: true},
	ElemMusic:       {text: true},
	ElemDialogue:    {children: set(ElemNarration, ElemCharacter, ElemSoundEffect)},
	ElemNarration:   {text: true},
	ElemCharacter:   {text: true, attrs: set(AttrName, AttrEmotion, AttrClothes, AttrIdentifier, AttrKind)},
	ElemSoundEffect: {text: true, attrs: set(AttrDuration)},
	ElemOptions:     {children: set(ElemTitle, ElemOption)},
	ElemTitle:       {text: true},
	ElemOption:      {text: true},
	ElemAction:      {text: true},
}

var fragmentTop = set(ElemRoot, ElemScene, ElemDialogue, ElemOptions, ElemAction)

// Policy - настраиваемые правила валидации.
type Policy struct {
	// MinDialogueEvents - минимум событий narration+character; 0 отключает проверку.
	MinDialogueEvents int
	// RequireComment требует хотя бы один комментарий во фрагменте.
	RequireComment bool
}

// Validator проверяет поток токенов на соответствие грамматике.
// Не хранит состояния между вызовами.
type Validator struct {
	policy Policy
}

// NewValidator создает валидатор.
func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Policy возвращает правила валидатора.
func (v *Validator) Policy() Policy {
	return v.policy
}

// ValidateText разбирает и проверяет фрагмент из текста.
func (v *Validator) ValidateText(src string) (*models.Fragment, []models.ContentPolicyWarning, error) {
	return v.Validate(markup.Tokens(src))
}

// Validate проверяет полный поток токенов одного фрагмента.
// Возвращает дерево фрагмента либо *models.SchemaError. Предупреждения политики
// не являются ошибкой и возвращаются отдельно.
func (v *Validator) Validate(tokens []markup.Token) (*models.Fragment, []models.ContentPolicyWarning, error) {
	root, comments, terr := buildTree(tokens, fragmentRules, fragmentTop)
	if terr != nil {
		return nil, nil, terr.schemaError()
	}

	top, err := unwrapRoot(root)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOrdering(top, endPos(tokens)); err != nil {
		return nil, nil, err
	}

	frag := &models.Fragment{Comments: comments}
	for _, n := range top {
		switch n.name {
		case ElemScene:
			scene, err := parseScene(n)
			if err != nil {
				return nil, nil, err
			}
			frag.Scenes = append(frag.Scenes, scene)
			frag.Order = append(frag.Order, models.ElementScene)
		case ElemDialogue:
			events, err := parseDialogue(n, len(frag.Scenes)-1)
			if err != nil {
				return nil, nil, err
			}
			frag.Dialogue = append(frag.Dialogue, events...)
			frag.Order = append(frag.Order, models.ElementDialogue)
		case ElemOptions:
			opts, err := parseOptions(n)
			if err != nil {
				return nil, nil, err
			}
			frag.Options = opts
			frag.Order = append(frag.Order, models.ElementOptions)
		case ElemAction:
			text := n.content()
			if text == "" {
				return nil, nil, schemaErr(models.SchemaEmptyRequiredSection, n, "action text", "")
			}
			frag.Action = &text
			frag.Order = append(frag.Order, models.ElementAction)
		}
	}

	if v.policy.RequireComment && len(comments) == 0 {
		return nil, nil, &models.SchemaError{
			Kind:     models.SchemaMissingRequired,
			Element:  "comment",
			Expected: "at least one <!-- comment --> node",
			Pos:      toPosition(endPos(tokens)),
		}
	}

	var warnings []models.ContentPolicyWarning
	if minEvents := v.policy.MinDialogueEvents; minEvents > 0 {
		if got := frag.EventCount(); got < minEvents {
			warnings = append(warnings, models.ContentPolicyWarning{Rule: "min-dialogue-events", Min: minEvents, Actual: got})
		}
	}
	return frag, warnings, nil
}

func schemaErr(kind models.SchemaErrorKind, n *node, expected, detail string) *models.SchemaError {
	return &models.SchemaError{
		Kind:     kind,
		Element:  n.name,
		Expected: expected,
		Pos:      toPosition(n.pos),
		Detail:   detail,
	}
}

func endPos(tokens []markup.Token) markup.Pos {
	if len(tokens) == 0 {
		return markup.Pos{Line: 1, Col: 1}
	}
	last := tokens[len(tokens)-1]
	p := last.Pos
	p.Offset = last.End
	return p
}

// unwrapRoot снимает необязательный корень <vnml>.
func unwrapRoot(root *node) ([]*node, error) {
	for i, n := range root.children {
		if n.name != ElemRoot {
			continue
		}
		if len(root.children) > 1 {
			other := root.children[0]
			if i == 0 {
				other = root.children[1]
			}
			return nil, schemaErr(models.SchemaUnexpectedElement, other, "", "elements outside the <vnml> root")
		}
		return n.children, nil
	}
	return root.children, nil
}

// checkOrdering проверяет порядок верхнего уровня: (scene|dialogue)+ options action?
func checkOrdering(top []*node, end markup.Pos) error {
	var seenBody, seenOptions, seenAction bool
	for i, n := range top {
		if seenAction {
			return schemaErr(models.SchemaBadOrdering, n, "end of fragment after <action>", "action must be the last element")
		}
		switch n.name {
		case ElemScene, ElemDialogue:
			if seenOptions {
				return schemaErr(models.SchemaBadOrdering, n, "<action> or end of fragment", fmt.Sprintf("<%s> after <options>", n.name))
			}
			seenBody = true
		case ElemOptions:
			if seenOptions {
				return schemaErr(models.SchemaBadOrdering, n, "a single <options>", "duplicate <options>")
			}
			if !seenBody {
				if bodyAfter(top[i+1:]) {
					return schemaErr(models.SchemaBadOrdering, n, "<scene> or <dialogue> first", "<options> before scene/dialogue")
				}
				return schemaErr(models.SchemaMissingRequired, n, "<scene> or <dialogue> before <options>", "")
			}
			seenOptions = true
		case ElemAction:
			if !seenOptions {
				return schemaErr(models.SchemaBadOrdering, n, "<options> before <action>", "action before options")
			}
			seenAction = true
		}
	}
	if !seenBody {
		return &models.SchemaError{Kind: models.SchemaMissingRequired, Element: "fragment", Expected: "<scene> or <dialogue>", Pos: toPosition(end)}
	}
	if !seenOptions {
		return &models.SchemaError{Kind: models.SchemaMissingRequired, Element: "fragment", Expected: "<options>", Pos: toPosition(end)}
	}
	return nil
}

func bodyAfter(nodes []*node) bool {
	for _, n := range nodes {
		if n.name == ElemScene || n.name == ElemDialogue {
			return true
		}
	}
	return false
}

func parseScene(n *node) (models.Scene, error) {
	var scene models.Scene
	var haveBackground, haveMusic bool
	for _, c := range n.children {
		keywords := splitKeywords(c.content())
		if len(keywords) == 0 {
			return scene, schemaErr(models.SchemaEmptyRequiredSection, c, "comma-separated keywords", "")
		}
		switch c.name {
		case ElemBackground:
			if haveBackground {
				return scene, schemaErr(models.SchemaUnexpectedElement, c, "", "duplicate <background>")
			}
			if haveMusic {
				return scene, schemaErr(models.SchemaBadOrdering, c, "<background> before <music>", "")
			}
			haveBackground = true
			scene.Background = keywords
		case ElemMusic:
			if haveMusic {
				return scene, schemaErr(models.SchemaUnexpectedElement, c, "", "duplicate <music>")
			}
			haveMusic = true
			scene.Music = keywords
		}
	}
	if !haveBackground {
		return scene, schemaErr(models.SchemaMissingRequired, n, "<background>", "")
	}
	if !haveMusic {
		return scene, schemaErr(models.SchemaMissingRequired, n, "<music>", "")
	}
	return scene, nil
}

func parseDialogue(n *node, sceneIndex int) ([]models.DialogueEvent, error) {
	if len(n.children) == 0 {
		return nil, schemaErr(models.SchemaEmptyRequiredSection, n, "at least one <narration>, <character> or <sound_effect>", "")
	}
	events := make([]models.DialogueEvent, 0, len(n.children))
	for _, c := range n.children {
		text := c.content()
		switch c.name {
		case ElemNarration:
			if text == "" {
				return nil, schemaErr(models.SchemaEmptyRequiredSection, c, "narration text", "")
			}
			events = append(events, models.DialogueEvent{Type: models.EventNarration, Text: text, SceneIndex: sceneIndex})

		case ElemCharacter:
			ev, err := parseLine(c, text)
			if err != nil {
				return nil, err
			}
			ev.SceneIndex = sceneIndex
			events = append(events, ev)

		case ElemSoundEffect:
			raw, ok := c.attr(AttrDuration)
			if !ok {
				return nil, schemaErr(models.SchemaMissingRequired, c, "attribute duration", "")
			}
			duration, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil || duration <= 0 {
				return nil, schemaErr(models.SchemaIllegalAttribute, c, "positive number of seconds", fmt.Sprintf("duration=%q", raw))
			}
			keywords := splitKeywords(text)
			if len(keywords) == 0 {
				return nil, schemaErr(models.SchemaEmptyRequiredSection, c, "sound keywords", "")
			}
			events = append(events, models.DialogueEvent{
				Type:       models.EventSoundEffect,
				Keywords:   keywords,
				Duration:   duration,
				SceneIndex: sceneIndex,
			})
		}
	}
	return events, nil
}

func parseLine(c *node, text string) (models.DialogueEvent, error) {
	ev := models.DialogueEvent{Type: models.EventLine, Text: text}
	name, ok := c.attr(AttrName)
	if !ok {
		return ev, schemaErr(models.SchemaMissingRequired, c, "attribute name", "")
	}
	if ev.Speaker = strings.TrimSpace(name); ev.Speaker == "" {
		return ev, schemaErr(models.SchemaIllegalAttribute, c, "non-empty name", "name is empty")
	}
	if text == "" {
		return ev, schemaErr(models.SchemaEmptyRequiredSection, c, "spoken text", "character "+ev.Speaker)
	}

	for _, attr := range []struct {
		name string
		dst  *string
	}{
		{AttrEmotion, &ev.Emotion},
		{AttrClothes, &ev.Clothes},
		{AttrIdentifier, &ev.Identifier},
	} {
		value, present := c.attr(attr.name)
		if !present {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			return ev, schemaErr(models.SchemaIllegalAttribute, c, "non-empty "+attr.name, attr.name+" is empty; omit it to keep the previous value")
		}
		*attr.dst = value
	}
	if strings.ContainsAny(ev.Emotion, " \t\n") {
		return ev, schemaErr(models.SchemaIllegalAttribute, c, "single-token emotion", fmt.Sprintf("emotion=%q", ev.Emotion))
	}
	if kind, present := c.attr(AttrKind); present {
		if models.CharacterKind(kind) != models.CharacterKindPasserby {
			return ev, schemaErr(models.SchemaIllegalAttribute, c, `kind="passerby"`, fmt.Sprintf("kind=%q", kind))
		}
		ev.Kind = models.CharacterKindPasserby
	}
	return ev, nil
}

func parseOptions(n *node) (models.OptionsBlock, error) {
	var block models.OptionsBlock
	var haveTitle bool
	for _, c := range n.children {
		if c.name == ElemOption {
			text := c.content()
			if text == "" {
				return block, schemaErr(models.SchemaEmptyRequiredSection, c, "option text", "")
			}
			block.Options = append(block.Options, models.Option{Index: len(block.Options), Text: text})
		}
	}
	if len(block.Options) == 0 {
		return block, schemaErr(models.SchemaEmptyRequiredSection, n, "at least one <option>", "")
	}
	for i, c := range n.children {
		if c.name != ElemTitle {
			continue
		}
		if haveTitle {
			return block, schemaErr(models.SchemaUnexpectedElement, c, "", "duplicate <title>")
		}
		if i != 0 {
			return block, schemaErr(models.SchemaBadOrdering, c, "<title> before the first <option>", "")
		}
		if block.Title = c.content(); block.Title == "" {
			return block, schemaErr(models.SchemaEmptyRequiredSection, c, "title text", "")
		}
		haveTitle = true
	}
	if !haveTitle {
		return block, schemaErr(models.SchemaMissingRequired, n, "<title>", "")
	}
	return block, nil
}
