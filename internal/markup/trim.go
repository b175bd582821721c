package markup

// RootElement - необязательный корневой элемент фрагмента.
const RootElement = "vnml"

// TrimIncomplete отрезает оборванный хвост фрагмента до последнего структурно
// завершенного элемента верхнего уровня. Необязательный корень <vnml> снимается,
// новый текст не добавляется.
// Возвращает false, если фрагмент не оборван или в нем нет ни одного завершенного элемента.
func TrimIncomplete(src string) (string, bool) {
	l := Lex(src)
	base, depth := 0, 0
	start, lastEnd := 0, -1
	seenContent := false

loop:
	for {
		tok, ok := l.Next()
		if !ok {
			break
		}
		if tok.Partial || tok.Malformed != "" {
			break
		}
		switch tok.Kind {
		case OpenTag:
			if !seenContent && depth == 0 && tok.Name == RootElement {
				base, depth = 1, 1
				start, lastEnd = tok.End, -1
				seenContent = true
				continue
			}
			seenContent = true
			depth++
		case CloseTag:
			depth--
			if depth < base {
				// Корень (или лишний закрывающий тег) закрыт - документ не оборван.
				break loop
			}
			if depth == base {
				lastEnd = tok.End
			}
		case SelfClosingTag:
			seenContent = true
			if depth == base {
				lastEnd = tok.End
			}
		case Comment:
			if depth == base {
				lastEnd = tok.End
			}
		case Text:
			if !tok.Blank {
				seenContent = true
			}
		}
	}

	if !l.Truncated() || lastEnd <= start {
		return "", false
	}
	return src[start:lastEnd], true
}
