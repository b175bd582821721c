package markup

import (
	"html"
	"strings"
)

// Lexer разбивает текст фрагмента на структурные токены.
// Фрагмент может не иметь единого корня и может быть оборван на середине элемента:
// в этом случае последний токен помечается Partial, ошибка не возвращается.
// Последовательность ленивая и одноразовая, для повторного разбора нужен новый Lex.
type Lexer struct {
	src       string
	off       int
	line, col int
	depth     int
	done      bool
	truncated bool
}

// Lex создает лексер для фрагмента.
func Lex(src string) *Lexer {
	return &Lexer{src: src, line: 1, col: 1}
}

// Tokens разбирает фрагмент целиком.
func Tokens(src string) []Token {
	l := Lex(src)
	var out []Token
	for {
		tok, ok := l.Next()
		if !ok {
			return out
		}
		out = append(out, tok)
	}
}

// Truncated сообщает, что поток закончился внутри незакрытой структуры.
// Значение окончательно только после того, как Next вернул false.
func (l *Lexer) Truncated() bool {
	return l.truncated
}

// Next возвращает следующий токен. false означает конец потока.
func (l *Lexer) Next() (Token, bool) {
	if l.done {
		return Token{}, false
	}
	if l.off >= len(l.src) {
		l.done = true
		if l.depth > 0 {
			l.truncated = true
		}
		return Token{}, false
	}

	start := l.pos()
	var tok Token
	rest := l.src[l.off:]
	switch {
	case strings.HasPrefix(rest, "<!--"):
		tok = l.lexComment()
	case strings.HasPrefix(rest, "</"):
		tok = l.lexCloseTag()
	case rest[0] == '<':
		tok = l.lexOpenTag()
	default:
		tok = l.lexText()
	}
	tok.Pos = start
	tok.Raw = l.src[start.Offset:l.off]
	tok.End = l.off

	if tok.Partial {
		l.truncated = true
		l.done = true
	}
	return tok, true
}

func (l *Lexer) pos() Pos {
	return Pos{Line: l.line, Col: l.col, Offset: l.off}
}

func (l *Lexer) eof() bool {
	return l.off >= len(l.src)
}

func (l *Lexer) advance(n int) {
	for i := 0; i < n && l.off < len(l.src); i++ {
		if l.src[l.off] == '\n' {
			l.line++
			l.col = 1
		} else {
			l.col++
		}
		l.off++
	}
}

func (l *Lexer) skipSpace() {
	for !l.eof() && isSpace(l.src[l.off]) {
		l.advance(1)
	}
}

// skipPast пропускает все до '>' включительно. Без '>' токен оборван.
func (l *Lexer) skipPast(tok *Token) {
	idx := strings.IndexByte(l.src[l.off:], '>')
	if idx < 0 {
		l.advance(len(l.src) - l.off)
		tok.Partial = true
		return
	}
	l.advance(idx + 1)
}

func (l *Lexer) readName() string {
	start := l.off
	for !l.eof() {
		c := l.src[l.off]
		if l.off == start {
			if !isNameStart(c) {
				break
			}
		} else if !isNameChar(c) {
			break
		}
		l.advance(1)
	}
	return l.src[start:l.off]
}

func (l *Lexer) lexComment() Token {
	tok := Token{Kind: Comment}
	l.advance(len("<!--"))
	idx := strings.Index(l.src[l.off:], "-->")
	if idx < 0 {
		tok.Text = l.src[l.off:]
		l.advance(len(l.src) - l.off)
		tok.Partial = true
		return tok
	}
	tok.Text = l.src[l.off : l.off+idx]
	l.advance(idx + len("-->"))
	return tok
}

func (l *Lexer) lexCloseTag() Token {
	tok := Token{Kind: CloseTag}
	l.advance(len("</"))
	tok.Name = l.readName()
	l.skipSpace()
	if l.eof() {
		tok.Partial = true
		return tok
	}
	if tok.Name == "" {
		tok.Malformed = "invalid tag name"
		l.skipPast(&tok)
		return tok
	}
	if l.src[l.off] != '>' {
		tok.Malformed = "unexpected character in closing tag"
		l.skipPast(&tok)
		return tok
	}
	l.advance(1)
	if l.depth > 0 {
		l.depth--
	}
	return tok
}

func (l *Lexer) lexOpenTag() Token {
	tok := Token{Kind: OpenTag}
	l.advance(1)
	if l.eof() {
		tok.Partial = true
		return tok
	}
	tok.Name = l.readName()
	if tok.Name == "" {
		tok.Malformed = "invalid tag name"
		l.skipPast(&tok)
		return tok
	}

	for {
		l.skipSpace()
		if l.eof() {
			tok.Partial = true
			return tok
		}
		switch l.src[l.off] {
		case '>':
			l.advance(1)
			l.depth++
			return tok
		case '/':
			l.advance(1)
			if l.eof() {
				tok.Partial = true
				return tok
			}
			if l.src[l.off] != '>' {
				tok.Malformed = "unexpected '/' in tag"
				l.skipPast(&tok)
				return tok
			}
			l.advance(1)
			tok.Kind = SelfClosingTag
			return tok
		}

		attrPos := l.pos()
		name := l.readName()
		if name == "" {
			tok.Malformed = "invalid attribute name"
			l.skipPast(&tok)
			return tok
		}
		l.skipSpace()
		if l.eof() {
			tok.Partial = true
			return tok
		}
		if l.src[l.off] != '=' {
			tok.Malformed = "attribute " + name + " has no value"
			l.skipPast(&tok)
			return tok
		}
		l.advance(1)
		l.skipSpace()
		if l.eof() {
			tok.Partial = true
			return tok
		}
		quote := l.src[l.off]
		if quote != '"' && quote != '\'' {
			tok.Malformed = "attribute " + name + " value is not quoted"
			l.skipPast(&tok)
			return tok
		}
		l.advance(1)
		idx := strings.IndexByte(l.src[l.off:], quote)
		if idx < 0 {
			l.advance(len(l.src) - l.off)
			tok.Partial = true
			return tok
		}
		value := html.UnescapeString(l.src[l.off : l.off+idx])
		l.advance(idx + 1)
		tok.Attrs = append(tok.Attrs, Attr{Name: name, Value: value, Pos: attrPos})
	}
}

func (l *Lexer) lexText() Token {
	tok := Token{Kind: Text}
	idx := strings.IndexByte(l.src[l.off:], '<')
	end := len(l.src)
	if idx >= 0 {
		end = l.off + idx
	}
	raw := l.src[l.off:end]
	l.advance(end - l.off)
	tok.Text = html.UnescapeString(raw)
	tok.Blank = strings.TrimSpace(raw) == ""
	// Непустой текст в конце ввода внутри открытого элемента - оборванная строка.
	if idx < 0 && l.depth > 0 && !tok.Blank {
		tok.Partial = true
	}
	return tok
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9') || c == '-' || c == '.' || c == ':'
}
