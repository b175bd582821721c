package models

import (
	"strings"
	"time"
)

// CharacterKind определяет роль персонажа в сессии.
type CharacterKind string

const (
	CharacterKindNPC      CharacterKind = "npc"
	CharacterKindPlayer   CharacterKind = "player"
	CharacterKindPasserby CharacterKind = "passerby" // Эпизодический персонаж, живет только в окне сцены.
)

// Имена атрибутов облика, используются в ошибках непрерывности.
const (
	AttrIdentifier = "identifier"
	AttrClothes    = "clothes"
	AttrEmotion    = "emotion"
)

// Appearance - текущий облик персонажа.
// Identifier неизменяем после первой привязки, Clothes и Emotion меняются по ходу диалога.
type Appearance struct {
	Identifier string `json:"identifier,omitempty"`
	Clothes    string `json:"clothes,omitempty"`
	Emotion    string `json:"emotion,omitempty"`
}

// Character представляет персонажа сессии.
type Character struct {
	Name       string        `json:"name"`
	Kind       CharacterKind `json:"kind"`
	Persona    string        `json:"persona,omitempty"`
	Appearance Appearance    `json:"appearance"`
}

// RelationshipCategory - формальная или скрытая связь.
type RelationshipCategory string

const (
	RelationshipFormal RelationshipCategory = "formal"
	RelationshipHidden RelationshipCategory = "hidden"
)

// Relationship - направленное ребро графа отношений.
type Relationship struct {
	From        string               `json:"from"`
	To          string               `json:"to"`
	Category    RelationshipCategory `json:"category"`
	Type        string               `json:"type"`
	Description string               `json:"description,omitempty"`
}

// Setup - одноразовый блок начальной настройки истории.
type Setup struct {
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	Characters    []Character    `json:"characters"`
	Relationships []Relationship `json:"relationships,omitempty"`
	Comments      []string       `json:"comments,omitempty"`
}

// Player возвращает персонажа игрока.
func (s *Setup) Player() (Character, bool) {
	for _, c := range s.Characters {
		if c.Kind == CharacterKindPlayer {
			return c, true
		}
	}
	return Character{}, false
}

// Character ищет персонажа по имени (с учетом регистра).
func (s *Setup) Character(name string) (Character, bool) {
	for _, c := range s.Characters {
		if c.Name == name {
			return c, true
		}
	}
	return Character{}, false
}

// Clone возвращает глубокую копию настройки.
func (s *Setup) Clone() *Setup {
	if s == nil {
		return nil
	}
	out := *s
	out.Characters = append([]Character(nil), s.Characters...)
	out.Relationships = append([]Relationship(nil), s.Relationships...)
	out.Comments = append([]string(nil), s.Comments...)
	return &out
}

// Scene - активная сцена. Новая сцена заменяет предыдущую целиком.
type Scene struct {
	Background []string `json:"background"`
	Music      []string `json:"music"`
}

// EventType - тип события диалога.
type EventType string

const (
	EventNarration   EventType = "narration"
	EventLine        EventType = "line"
	EventSoundEffect EventType = "sound_effect"
)

// DialogueEvent - одно событие диалога. Поля заполняются в зависимости от Type.
type DialogueEvent struct {
	Type EventType `json:"type"`
	Text string    `json:"text,omitempty"`

	// line
	Speaker    string        `json:"speaker,omitempty"`
	Kind       CharacterKind `json:"kind,omitempty"`
	Emotion    string        `json:"emotion,omitempty"`
	Clothes    string        `json:"clothes,omitempty"`
	Identifier string        `json:"identifier,omitempty"`

	// sound_effect
	Keywords []string `json:"keywords,omitempty"`
	Duration float64  `json:"duration,omitempty"`

	// SceneIndex связывает событие со сценой фрагмента, действовавшей в момент события.
	// -1 означает сцену, унаследованную от предыдущего хода.
	SceneIndex int `json:"scene_index"`
}

// Option - вариант выбора со стабильным индексом.
type Option struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// OptionsBlock - блок вариантов выбора.
type OptionsBlock struct {
	Title   string   `json:"title"`
	Options []Option `json:"options"`
}

// Match ищет вариант по точному совпадению текста без учета регистра и пробелов по краям.
func (o OptionsBlock) Match(text string) (Option, bool) {
	needle := strings.TrimSpace(text)
	for _, opt := range o.Options {
		if strings.EqualFold(strings.TrimSpace(opt.Text), needle) {
			return opt, true
		}
	}
	return Option{}, false
}

// Texts возвращает тексты вариантов в порядке индексов.
func (o OptionsBlock) Texts() []string {
	out := make([]string, len(o.Options))
	for i, opt := range o.Options {
		out[i] = opt.Text
	}
	return out
}

// ElementKind - тип элемента верхнего уровня фрагмента.
type ElementKind string

const (
	ElementScene    ElementKind = "scene"
	ElementDialogue ElementKind = "dialogue"
	ElementOptions  ElementKind = "options"
	ElementAction   ElementKind = "action"
)

// Fragment - разобранный фрагмент разметки одного хода.
// Scenes и Dialogue хранятся в порядке документа, Order фиксирует чередование.
type Fragment struct {
	Order    []ElementKind   `json:"order"`
	Scenes   []Scene         `json:"scenes"`
	Dialogue []DialogueEvent `json:"dialogue"`
	Options  OptionsBlock    `json:"options"`
	Action   *string         `json:"action,omitempty"`
	Comments []string        `json:"comments,omitempty"`
}

// Clone возвращает глубокую копию фрагмента.
func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	out := &Fragment{
		Order:    append([]ElementKind(nil), f.Order...),
		Scenes:   make([]Scene, len(f.Scenes)),
		Dialogue: make([]DialogueEvent, len(f.Dialogue)),
		Options: OptionsBlock{
			Title:   f.Options.Title,
			Options: append([]Option(nil), f.Options.Options...),
		},
		Comments: append([]string(nil), f.Comments...),
	}
	for i, s := range f.Scenes {
		out.Scenes[i] = s.Clone()
	}
	for i, ev := range f.Dialogue {
		out.Dialogue[i] = ev.Clone()
	}
	if f.Action != nil {
		a := *f.Action
		out.Action = &a
	}
	return out
}

// Clone копирует сцену.
func (s Scene) Clone() Scene {
	return Scene{
		Background: append([]string(nil), s.Background...),
		Music:      append([]string(nil), s.Music...),
	}
}

// Clone копирует событие.
func (e DialogueEvent) Clone() DialogueEvent {
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}

// EventCount возвращает число событий narration+line, учитываемых политикой минимальной длины.
func (f *Fragment) EventCount() int {
	n := 0
	for _, ev := range f.Dialogue {
		if ev.Type == EventNarration || ev.Type == EventLine {
			n++
		}
	}
	return n
}

// ActionPolicy определяет, как сопоставляется действие игрока с вариантами.
type ActionPolicy string

const (
	ActionPolicyStrict   ActionPolicy = "strict-match"
	ActionPolicyFreeForm ActionPolicy = "free-form"
)

// Valid проверяет значение политики.
func (p ActionPolicy) Valid() bool {
	return p == ActionPolicyStrict || p == ActionPolicyFreeForm
}

// Turn - зафиксированный неизменяемый ход.
// ChosenAction == nil означает, что действие еще не выбрано.
type Turn struct {
	Seq          int             `json:"seq"`
	Scene        Scene           `json:"scene"`
	Scenes       []Scene         `json:"scenes,omitempty"`
	Dialogue     []DialogueEvent `json:"dialogue"`
	Options      OptionsBlock    `json:"options"`
	ChosenAction *string         `json:"chosen_action,omitempty"`
	ActionPolicy ActionPolicy    `json:"action_policy,omitempty"`
	Comments     []string        `json:"comments,omitempty"`
	Raw          string          `json:"raw,omitempty"`
	CommittedAt  time.Time       `json:"committed_at"`
}

// Pending сообщает, ожидает ли ход выбора действия.
func (t Turn) Pending() bool {
	return t.ChosenAction == nil
}

// Clone возвращает глубокую копию хода.
func (t Turn) Clone() Turn {
	out := t
	out.Scene = t.Scene.Clone()
	out.Scenes = make([]Scene, len(t.Scenes))
	for i, s := range t.Scenes {
		out.Scenes[i] = s.Clone()
	}
	out.Dialogue = make([]DialogueEvent, len(t.Dialogue))
	for i, ev := range t.Dialogue {
		out.Dialogue[i] = ev.Clone()
	}
	out.Options = OptionsBlock{Title: t.Options.Title, Options: append([]Option(nil), t.Options.Options...)}
	out.Comments = append([]string(nil), t.Comments...)
	if t.ChosenAction != nil {
		a := *t.ChosenAction
		out.ChosenAction = &a
	}
	return out
}

// CueType - тип команды рендереру.
type CueType string

const (
	CueDisplay CueType = "display"
	CueSpeak   CueType = "speak"
	CueNarrate CueType = "narrate"
	CueSound   CueType = "sound"
)

// Cue - одна команда рендереру (смена сцены, реплика, закадровый текст, звук).
// Sentences содержит текст, разбитый на предложения для синтеза речи по частям.
type Cue struct {
	Type       CueType  `json:"type"`
	Seq        int      `json:"seq"`
	Index      int      `json:"index"`
	Background []string `json:"background,omitempty"`
	Music      []string `json:"music,omitempty"`
	Speaker    string   `json:"speaker,omitempty"`
	Identifier string   `json:"identifier,omitempty"`
	Clothes    string   `json:"clothes,omitempty"`
	Emotion    string   `json:"emotion,omitempty"`
	Text       string   `json:"text,omitempty"`
	Sentences  []string `json:"sentences,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`
	Duration   float64  `json:"duration,omitempty"`
}
