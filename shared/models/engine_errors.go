package models

import (
	"fmt"
	"strings"
	"time"
)

// Position - позиция в исходном тексте фрагмента (строки и колонки с 1, смещение в байтах с 0).
type Position struct {
	Line   int `json:"line"`
	Col    int `json:"col"`
	Offset int `json:"offset"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Col)
}

// SchemaErrorKind - вид структурного нарушения.
type SchemaErrorKind string

const (
	SchemaMissingRequired      SchemaErrorKind = "missing-required"
	SchemaUnexpectedElement    SchemaErrorKind = "unexpected-element"
	SchemaIllegalAttribute     SchemaErrorKind = "illegal-attribute"
	SchemaBadOrdering          SchemaErrorKind = "bad-ordering"
	SchemaEmptyRequiredSection SchemaErrorKind = "empty-required-section"
)

// SchemaError - структурная ошибка фрагмента. Всегда фатальна для фрагмента.
type SchemaError struct {
	Kind     SchemaErrorKind `json:"kind"`
	Element  string          `json:"element"`
	Expected string          `json:"expected,omitempty"`
	Pos      Position        `json:"pos"`
	Detail   string          `json:"detail,omitempty"`
	// Truncated выставляется, если поток оборвался внутри незакрытой структуры.
	Truncated bool `json:"truncated,omitempty"`
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema error (%s) at %s: element <%s>", e.Kind, e.Pos, e.Element)
	if e.Expected != "" {
		fmt.Fprintf(&b, ", expected %s", e.Expected)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchema }

// Hint формирует подсказку для генератора с описанием нарушения.
func (e *SchemaError) Hint() string {
	msg := fmt.Sprintf("The previous fragment was rejected: %s violation at line %d on <%s>.", e.Kind, e.Pos.Line, e.Element)
	if e.Expected != "" {
		msg += " Expected " + e.Expected + "."
	}
	if e.Detail != "" {
		msg += " " + e.Detail + "."
	}
	return msg
}

// ContentPolicyWarning - мягкое нарушение бизнес-правила (например, слишком короткий диалог).
type ContentPolicyWarning struct {
	Rule   string `json:"rule"`
	Min    int    `json:"min"`
	Actual int    `json:"actual"`
}

func (w *ContentPolicyWarning) Error() string {
	return fmt.Sprintf("content policy warning (%s): got %d, want at least %d", w.Rule, w.Actual, w.Min)
}

func (w *ContentPolicyWarning) Is(target error) bool { return target == ErrContentPolicy }

func (w *ContentPolicyWarning) Hint() string {
	return fmt.Sprintf("The previous fragment was too short: it had %d narration/character events, write at least %d.", w.Actual, w.Min)
}

// ContinuityErrorKind - вид семантического нарушения непрерывности.
type ContinuityErrorKind string

const (
	ContinuityMissingInitialAttribute ContinuityErrorKind = "missing-initial-attribute"
	ContinuityIdentityConflict        ContinuityErrorKind = "identity-conflict"
	ContinuityUnknownSpeaker          ContinuityErrorKind = "unknown-speaker"
	ContinuityNoActiveScene           ContinuityErrorKind = "no-active-scene"
)

// ContinuityError - нарушение непрерывности. identity-conflict неисправим.
type ContinuityError struct {
	Kind       ContinuityErrorKind `json:"kind"`
	Character  string              `json:"character,omitempty"`
	Attribute  string              `json:"attribute,omitempty"`
	Existing   string              `json:"existing,omitempty"`
	Got        string              `json:"got,omitempty"`
	EventIndex int                 `json:"event_index"`
}

func (e *ContinuityError) Error() string {
	switch e.Kind {
	case ContinuityIdentityConflict:
		return fmt.Sprintf("continuity error (%s): character %q has identifier %q, got %q", e.Kind, e.Character, e.Existing, e.Got)
	case ContinuityMissingInitialAttribute:
		return fmt.Sprintf("continuity error (%s): character %q has no prior %s (event %d)", e.Kind, e.Character, e.Attribute, e.EventIndex)
	case ContinuityNoActiveScene:
		return fmt.Sprintf("continuity error (%s): dialogue before any scene (event %d)", e.Kind, e.EventIndex)
	default:
		return fmt.Sprintf("continuity error (%s): character %q (event %d)", e.Kind, e.Character, e.EventIndex)
	}
}

func (e *ContinuityError) Is(target error) bool { return target == ErrContinuity }

// Fatal сообщает, что ошибку нельзя исправить повторной генерацией.
func (e *ContinuityError) Fatal() bool { return e.Kind == ContinuityIdentityConflict }

func (e *ContinuityError) Hint() string {
	switch e.Kind {
	case ContinuityMissingInitialAttribute:
		return fmt.Sprintf("Character %q appears for the first time without %s; set the %s attribute explicitly.", e.Character, e.Attribute, e.Attribute)
	case ContinuityUnknownSpeaker:
		return fmt.Sprintf("Character %q is not declared; use a declared character or mark it kind=\"passerby\" with identifier, clothes and emotion.", e.Character)
	case ContinuityNoActiveScene:
		return "The story has no scene yet; start the fragment with a <scene> element."
	default:
		return e.Error()
	}
}

// SetupError - ошибка разбора блока настройки. Фатальна для старта сессии.
type SetupError struct {
	Element string   `json:"element"`
	Field   string   `json:"field,omitempty"`
	Pos     Position `json:"pos"`
	Detail  string   `json:"detail"`
}

func (e *SetupError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("setup error at %s: <%s> %s: %s", e.Pos, e.Element, e.Field, e.Detail)
	}
	return fmt.Sprintf("setup error at %s: <%s>: %s", e.Pos, e.Element, e.Detail)
}

func (e *SetupError) Is(target error) bool { return target == ErrSetup }

// GeneratorTimeoutError - генератор не ответил за отведенное время.
type GeneratorTimeoutError struct {
	Timeout time.Duration `json:"timeout"`
	Attempt int           `json:"attempt"`
	Err     error         `json:"-"`
}

func (e *GeneratorTimeoutError) Error() string {
	return fmt.Sprintf("generator timed out after %v (attempt %d): %v", e.Timeout, e.Attempt, e.Err)
}

func (e *GeneratorTimeoutError) Is(target error) bool { return target == ErrGeneratorTimeout }
func (e *GeneratorTimeoutError) Unwrap() error        { return e.Err }

// UnknownActionError - действие не совпало ни с одним ожидающим вариантом.
type UnknownActionError struct {
	Action  string   `json:"action"`
	Pending []string `json:"pending"`
}

func (e *UnknownActionError) Error() string {
	if e.Action == "" {
		return "unknown action: empty action text"
	}
	return fmt.Sprintf("unknown action %q, pending options: [%s]", e.Action, strings.Join(e.Pending, "; "))
}

func (e *UnknownActionError) Is(target error) bool { return target == ErrUnknownAction }

// EngineError - итоговая ошибка хода после исчерпания повторов или фатального нарушения.
type EngineError struct {
	Retries int   `json:"retries"`
	Cause   error `json:"-"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("turn failed after %d retries: %v", e.Retries, e.Cause)
}

func (e *EngineError) Is(target error) bool { return target == ErrEngine }
func (e *EngineError) Unwrap() error        { return e.Cause }
