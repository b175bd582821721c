package markup

import "fmt"

// Kind - тип структурного токена.
type Kind int

const (
	OpenTag Kind = iota + 1
	CloseTag
	SelfClosingTag
	Text
	Comment
)

func (k Kind) String() string {
	switch k {
	case OpenTag:
		return "open-tag"
	case CloseTag:
		return "close-tag"
	case SelfClosingTag:
		return "self-closing-tag"
	case Text:
		return "text"
	case Comment:
		return "comment"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Pos - позиция токена: строка и колонка (в байтах) с 1, смещение с 0.
type Pos struct {
	Line   int
	Col    int
	Offset int
}

// Attr - атрибут тега в порядке появления.
type Attr struct {
	Name  string
	Value string
	Pos   Pos
}

// Token - один токен фрагмента.
type Token struct {
	Kind  Kind
	Name  string // имя тега для OpenTag/CloseTag/SelfClosingTag
	Attrs []Attr
	Text  string // декодированный текст или тело комментария
	Raw   string // исходный текст токена
	Pos   Pos
	End   int // смещение сразу после токена

	// Blank - текст состоит только из пробельных символов.
	Blank bool
	// Partial - токен оборван концом ввода.
	Partial bool
	// Malformed содержит причину, если синтаксис тега некорректен.
	Malformed string
}

// Attr возвращает значение атрибута по имени.
func (t Token) Attr(name string) (string, bool) {
	for _, a := range t.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

func (t Token) String() string {
	switch t.Kind {
	case OpenTag, SelfClosingTag:
		return fmt.Sprintf("<%s> at %d:%d", t.Name, t.Pos.Line, t.Pos.Col)
	case CloseTag:
		return fmt.Sprintf("</%s> at %d:%d", t.Name, t.Pos.Line, t.Pos.Col)
	default:
		return fmt.Sprintf("%s at %d:%d", t.Kind, t.Pos.Line, t.Pos.Col)
	}
}
