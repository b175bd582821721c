package schema

import (
	"fmt"
	"strings"

	"vnml-server/internal/markup"
	"vnml-server/shared/models"
)

// Элементы блока настройки.
const (
	ElemStory         = "story"
	ElemNPCs          = "npcs"
	ElemNPC           = "npc"
	ElemPlayer        = "player"
	ElemRelationships = "relationships"
	ElemRelationship  = "relationship"

	AttrTitle    = "title"
	AttrFrom     = "from"
	AttrTo       = "to"
	AttrCategory = "category"
	AttrType     = "type"
)

var setupRules = map[string]rule{
	ElemRoot:          {children: set(ElemStory)},
	ElemStory:         {text: true, attrs: set(AttrTitle), children: set(ElemNPCs, ElemPlayer, ElemRelationships)},
	ElemNPCs:          {children: set(ElemNPC)},
	ElemNPC:           {text: true, attrs: set(AttrName, AttrIdentifier, AttrClothes, AttrEmotion)},
	ElemPlayer:        {text: true, attrs: set(AttrName, AttrIdentifier, AttrClothes, AttrEmotion)},
	ElemRelationships: {children: set(ElemRelationship)},
	ElemRelationship:  {text: true, attrs: set(AttrFrom, AttrTo, AttrCategory, AttrType)},
}

var setupTop = set(ElemRoot, ElemStory)

func setupErr(n *node, field, detail string) *models.SetupError {
	return &models.SetupError{Element: n.name, Field: field, Pos: toPosition(n.pos), Detail: detail}
}

// ParseSetup разбирает одноразовый блок настройки истории.
// Любое отсутствующее обязательное поле, неизвестная ссылка или дубликат - *models.SetupError.
func ParseSetup(src string) (*models.Setup, error) {
	tokens := markup.Tokens(src)
	root, comments, terr := buildTree(tokens, setupRules, setupTop)
	if terr != nil {
		return nil, terr.setupError()
	}

	top := root.children
	if len(top) == 1 && top[0].name == ElemRoot {
		top = top[0].children
	}
	if len(top) == 0 {
		return nil, &models.SetupError{Element: ElemStory, Pos: toPosition(endPos(tokens)), Detail: "missing <story> block"}
	}
	if len(top) > 1 {
		return nil, setupErr(top[1], "", "only one <story> block is allowed")
	}
	story := top[0]

	setup := &models.Setup{Comments: comments}
	title, ok := story.attr(AttrTitle)
	if !ok || strings.TrimSpace(title) == "" {
		return nil, setupErr(story, AttrTitle, "required attribute is missing")
	}
	setup.Title = strings.TrimSpace(title)
	setup.Description = story.content()

	var relationships []*node
	var sawNPCs, sawPlayer, sawRelationships bool
	for _, section := range story.children {
		switch section.name {
		case ElemNPCs:
			if sawNPCs {
				return nil, setupErr(section, "", "duplicate <npcs> section")
			}
			sawNPCs = true
			if len(section.children) == 0 {
				return nil, setupErr(section, "", "section has no <npc> entries")
			}
			for _, n := range section.children {
				c, err := parseSetupCharacter(n, models.CharacterKindNPC)
				if err != nil {
					return nil, err
				}
				setup.Characters = append(setup.Characters, c)
			}
		case ElemPlayer:
			if sawPlayer {
				return nil, setupErr(section, "", "only one <player> is allowed")
			}
			sawPlayer = true
			c, err := parseSetupCharacter(section, models.CharacterKindPlayer)
			if err != nil {
				return nil, err
			}
			setup.Characters = append(setup.Characters, c)
		case ElemRelationships:
			if sawRelationships {
				return nil, setupErr(section, "", "duplicate <relationships> section")
			}
			sawRelationships = true
			if len(section.children) == 0 {
				return nil, setupErr(section, "", "section has no <relationship> entries")
			}
			relationships = section.children
		}
	}
	if !sawPlayer {
		return nil, setupErr(story, "", "missing <player>")
	}

	names := make(map[string]bool, len(setup.Characters))
	for i, c := range setup.Characters {
		if names[c.Name] {
			return nil, &models.SetupError{Element: string(c.Kind), Field: AttrName, Detail: fmt.Sprintf("duplicate character name %q (entry %d)", c.Name, i)}
		}
		names[c.Name] = true
	}

	edges := make(map[string]bool, len(relationships))
	for _, n := range relationships {
		rel, err := parseRelationship(n, names)
		if err != nil {
			return nil, err
		}
		key := rel.From + "\x00" + rel.To + "\x00" + rel.Type
		if edges[key] {
			return nil, setupErr(n, AttrType, fmt.Sprintf("duplicate relationship %s -> %s of type %q", rel.From, rel.To, rel.Type))
		}
		edges[key] = true
		setup.Relationships = append(setup.Relationships, rel)
	}
	return setup, nil
}

func requiredAttr(n *node, name string) (string, error) {
	v, ok := n.attr(name)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", setupErr(n, name, "required attribute is missing")
	}
	return v, nil
}

func parseSetupCharacter(n *node, kind models.CharacterKind) (models.Character, error) {
	c := models.Character{Kind: kind, Persona: n.content()}
	var err error
	if c.Name, err = requiredAttr(n, AttrName); err != nil {
		return c, err
	}
	if c.Appearance.Identifier, err = requiredAttr(n, AttrIdentifier); err != nil {
		return c, err
	}
	if v, ok := n.attr(AttrClothes); ok {
		c.Appearance.Clothes = strings.TrimSpace(v)
	}
	if v, ok := n.attr(AttrEmotion); ok {
		c.Appearance.Emotion = strings.TrimSpace(v)
		if strings.ContainsAny(c.Appearance.Emotion, " \t\n") {
			return c, setupErr(n, AttrEmotion, "emotion must be a single token")
		}
	}
	return c, nil
}

func parseRelationship(n *node, names map[string]bool) (models.Relationship, error) {
	var rel models.Relationship
	var err error
	if rel.From, err = requiredAttr(n, AttrFrom); err != nil {
		return rel, err
	}
	if rel.To, err = requiredAttr(n, AttrTo); err != nil {
		return rel, err
	}
	category, err := requiredAttr(n, AttrCategory)
	if err != nil {
		return rel, err
	}
	rel.Category = models.RelationshipCategory(category)
	if rel.Category != models.RelationshipFormal && rel.Category != models.RelationshipHidden {
		return rel, setupErr(n, AttrCategory, fmt.Sprintf("category must be formal or hidden, got %q", category))
	}
	if rel.Type, err = requiredAttr(n, AttrType); err != nil {
		return rel, err
	}
	for _, ref := range []string{rel.From, rel.To} {
		if !names[ref] {
			return rel, setupErr(n, "", fmt.Sprintf("unknown character %q", ref))
		}
	}
	rel.Description = n.content()
	return rel, nil
}
