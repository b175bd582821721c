package continuity

import (
	"fmt"

	"vnml-server/shared/models"
)

// Tracker хранит состояние непрерывности сессии: последний известный облик
// каждого персонажа, привязанные идентификаторы, окно эпизодических персонажей
// текущей сцены и активную сцену.
//
// Tracker не потокобезопасен, сериализацию обеспечивает сессия.
type Tracker struct {
	characters  map[string]models.Character
	appearances map[string]models.Appearance
	passersby   map[string]models.Appearance
	activeScene *models.Scene
}

// NewTracker создает трекер по блоку настройки. Значения clothes/emotion из настройки
// считаются первым появлением персонажа.
func NewTracker(setup *models.Setup) *Tracker {
	t := &Tracker{
		characters:  make(map[string]models.Character, len(setup.Characters)),
		appearances: make(map[string]models.Appearance, len(setup.Characters)),
		passersby:   make(map[string]models.Appearance),
	}
	for _, c := range setup.Characters {
		t.characters[c.Name] = c
		t.appearances[c.Name] = c.Appearance
	}
	return t
}

// Clone возвращает независимую копию трекера.
func (t *Tracker) Clone() *Tracker {
	out := &Tracker{
		characters:  make(map[string]models.Character, len(t.characters)),
		appearances: make(map[string]models.Appearance, len(t.appearances)),
		passersby:   make(map[string]models.Appearance, len(t.passersby)),
	}
	for k, v := range t.characters {
		out.characters[k] = v
	}
	for k, v := range t.appearances {
		out.appearances[k] = v
	}
	for k, v := range t.passersby {
		out.passersby[k] = v
	}
	if t.activeScene != nil {
		s := t.activeScene.Clone()
		out.activeScene = &s
	}
	return out
}

// Resolve заполняет опущенные атрибуты реплик по истории и проверяет идентичность.
// Работает на копии: ни фрагмент, ни трекер не изменяются. Возвращает фрагмент,
// в котором у каждой реплики явно заданы identifier, clothes и emotion,
// либо *models.ContinuityError.
func (t *Tracker) Resolve(frag *models.Fragment) (*models.Fragment, error) {
	out := frag.Clone()
	work := t.Clone()
	if err := work.walk(out.Scenes, out.Dialogue); err != nil {
		return nil, err
	}
	return out, nil
}

// Apply фиксирует эффект разрешенного фрагмента.
// Фрагмент должен быть результатом Resolve на этом же состоянии трекера; иначе
// возвращается ошибка непрерывности и трекер не меняется.
func (t *Tracker) Apply(resolved *models.Fragment) error {
	work := t.Clone()
	if err := work.walk(resolved.Scenes, resolved.Dialogue); err != nil {
		return fmt.Errorf("apply fragment: %w", err)
	}
	*t = *work
	return nil
}

// Seed воспроизводит зафиксированный ход при восстановлении сессии.
func (t *Tracker) Seed(turn models.Turn) error {
	work := t.Clone()
	if err := work.walk(turn.Scenes, turn.Dialogue); err != nil {
		return fmt.Errorf("seed turn %d: %w", turn.Seq, err)
	}
	*t = *work
	return nil
}

// Appearance возвращает копию текущего облика персонажа, включая эпизодических
// персонажей активной сцены.
func (t *Tracker) Appearance(name string) (models.Appearance, bool) {
	if a, ok := t.appearances[name]; ok {
		return a, true
	}
	a, ok := t.passersby[name]
	return a, ok
}

// Appearances возвращает копию таблицы обликов для снимка состояния.
func (t *Tracker) Appearances() map[string]models.Appearance {
	out := make(map[string]models.Appearance, len(t.appearances)+len(t.passersby))
	for k, v := range t.appearances {
		out[k] = v
	}
	for k, v := range t.passersby {
		out[k] = v
	}
	return out
}

// ActiveScene возвращает копию активной сцены или nil, если сцены еще не было.
func (t *Tracker) ActiveScene() *models.Scene {
	if t.activeScene == nil {
		return nil
	}
	s := t.activeScene.Clone()
	return &s
}

// walk применяет сцены и события в порядке документа, дописывая атрибуты в events.
// SceneIndex события указывает, какая сцена фрагмента действовала в момент события.
func (t *Tracker) walk(scenes []models.Scene, events []models.DialogueEvent) error {
	current := -1
	enter := func(upTo int) {
		for current < upTo && current+1 < len(scenes) {
			current++
			s := scenes[current].Clone()
			t.activeScene = &s
			// Новая сцена закрывает окно эпизодических персонажей.
			clear(t.passersby)
		}
	}

	for i := range events {
		ev := &events[i]
		enter(ev.SceneIndex)
		if t.activeScene == nil {
			return &models.ContinuityError{Kind: models.ContinuityNoActiveScene, EventIndex: i}
		}
		if ev.Type != models.EventLine {
			continue
		}
		if err := t.resolveLine(ev, i); err != nil {
			return err
		}
	}
	enter(len(scenes) - 1)
	return nil
}

func (t *Tracker) resolveLine(ev *models.DialogueEvent, idx int) error {
	if known, ok := t.characters[ev.Speaker]; ok {
		bound := known.Appearance.Identifier
		if ev.Kind == models.CharacterKindPasserby {
			return &models.ContinuityError{
				Kind:       models.ContinuityIdentityConflict,
				Character:  ev.Speaker,
				Attribute:  models.AttrIdentifier,
				Existing:   bound,
				Got:        nonEmpty(ev.Identifier, "passerby"),
				EventIndex: idx,
			}
		}
		ev.Kind = known.Kind
		resolved, err := fill(ev, t.appearances[ev.Speaker], bound, idx)
		if err != nil {
			return err
		}
		t.appearances[ev.Speaker] = resolved
		return nil
	}

	prev, inWindow := t.passersby[ev.Speaker]
	if !inWindow && ev.Kind != models.CharacterKindPasserby {
		return &models.ContinuityError{Kind: models.ContinuityUnknownSpeaker, Character: ev.Speaker, EventIndex: idx}
	}
	ev.Kind = models.CharacterKindPasserby
	if !inWindow && ev.Identifier == "" {
		return &models.ContinuityError{
			Kind:       models.ContinuityMissingInitialAttribute,
			Character:  ev.Speaker,
			Attribute:  models.AttrIdentifier,
			EventIndex: idx,
		}
	}
	bound := prev.Identifier
	if !inWindow {
		bound = ev.Identifier
	}
	resolved, err := fill(ev, prev, bound, idx)
	if err != nil {
		return err
	}
	t.passersby[ev.Speaker] = resolved
	return nil
}

// fill проверяет идентификатор и подставляет опущенные clothes/emotion из last.
func fill(ev *models.DialogueEvent, last models.Appearance, bound string, idx int) (models.Appearance, error) {
	if ev.Identifier != "" && ev.Identifier != bound {
		return last, &models.ContinuityError{
			Kind:       models.ContinuityIdentityConflict,
			Character:  ev.Speaker,
			Attribute:  models.AttrIdentifier,
			Existing:   bound,
			Got:        ev.Identifier,
			EventIndex: idx,
		}
	}
	ev.Identifier = bound

	for _, attr := range []struct {
		name string
		dst  *string
		prev string
	}{
		{models.AttrClothes, &ev.Clothes, last.Clothes},
		{models.AttrEmotion, &ev.Emotion, last.Emotion},
	} {
		if *attr.dst != "" {
			continue
		}
		if attr.prev == "" {
			return last, &models.ContinuityError{
				Kind:       models.ContinuityMissingInitialAttribute,
				Character:  ev.Speaker,
				Attribute:  attr.name,
				EventIndex: idx,
			}
		}
		*attr.dst = attr.prev
	}
	return models.Appearance{Identifier: ev.Identifier, Clothes: ev.Clothes, Emotion: ev.Emotion}, nil
}

func nonEmpty(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
