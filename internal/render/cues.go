package render

import (
	"strings"
	"unicode/utf8"

	"vnml-server/shared/models"
)

// MinSentenceRunes - предложения короче этого порога склеиваются со следующим,
// чтобы синтезатор речи не получал обрывки вроде "Да.".
const MinSentenceRunes = 10

// Cues превращает зафиксированный ход в последовательность команд рендереру.
// Смена сцены выдается перед первым событием, которое к ней относится.
// Сцены, объявленные после всех событий, выдаются в конце.
func Cues(turn models.Turn) []models.Cue {
	cues := make([]models.Cue, 0, len(turn.Dialogue)+len(turn.Scenes))
	emitted := -1
	add := func(c models.Cue) {
		c.Seq = turn.Seq
		c.Index = len(cues)
		cues = append(cues, c)
	}
	flushScenes := func(upTo int) {
		for emitted < upTo && emitted+1 < len(turn.Scenes) {
			emitted++
			scene := turn.Scenes[emitted].Clone()
			add(models.Cue{Type: models.CueDisplay, Background: scene.Background, Music: scene.Music})
		}
	}

	for _, ev := range turn.Dialogue {
		flushScenes(ev.SceneIndex)
		switch ev.Type {
		case models.EventLine:
			add(models.Cue{
				Type:       models.CueSpeak,
				Speaker:    ev.Speaker,
				Identifier: ev.Identifier,
				Clothes:    ev.Clothes,
				Emotion:    ev.Emotion,
				Text:       ev.Text,
				Sentences:  SplitSentences(ev.Text),
			})
		case models.EventNarration:
			add(models.Cue{Type: models.CueNarrate, Text: ev.Text, Sentences: SplitSentences(ev.Text)})
		case models.EventSoundEffect:
			add(models.Cue{
				Type:     models.CueSound,
				Keywords: append([]string(nil), ev.Keywords...),
				Duration: ev.Duration,
			})
		}
	}
	flushScenes(len(turn.Scenes) - 1)
	return cues
}

var sentenceBreaks = []string{"\n", ". ", "! ", "? ", "… ", "。", "？", "！"}

// SplitSentences режет текст на предложения по концевым знакам препинания.
// Знак остается в конце предложения, пробелы по краям снимаются.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	var pending strings.Builder
	rest := text
	for rest != "" {
		cut := -1
		width := 0
		for _, sep := range sentenceBreaks {
			if i := strings.Index(rest, sep); i >= 0 && (cut < 0 || i < cut) {
				cut, width = i, len(sep)
			}
		}
		if cut < 0 {
			pending.WriteString(rest)
			break
		}
		end := cut + width
		chunk := rest[:end]
		rest = rest[end:]
		pending.WriteString(chunk)
		if utf8.RuneCountInString(strings.TrimSpace(pending.String())) < MinSentenceRunes {
			continue
		}
		if s := strings.TrimSpace(pending.String()); s != "" {
			out = append(out, s)
		}
		pending.Reset()
	}
	if s := strings.TrimSpace(pending.String()); s != "" {
		if len(out) > 0 && utf8.RuneCountInString(s) < MinSentenceRunes {
			out[len(out)-1] += " " + s
		} else {
			out = append(out, s)
		}
	}
	return out
}
