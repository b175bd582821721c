package generator

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter считает токены промпта для ограничения контекста.
// Без кодировки используется грубая оценка: четыре символа на токен.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter подбирает кодировку для модели, при неудаче берет cl100k_base.
// Если и она недоступна (например, нет доступа к файлам словаря), возвращает оценочный счетчик.
func NewTokenCounter(model string) *TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// EstimateCounter возвращает счетчик без кодировки.
func EstimateCounter() *TokenCounter {
	return &TokenCounter{}
}

// Exact сообщает, что используется настоящая кодировка.
func (c *TokenCounter) Exact() bool {
	return c != nil && c.enc != nil
}

// Count возвращает число токенов в тексте.
func (c *TokenCounter) Count(s string) int {
	if !c.Exact() {
		return (utf8.RuneCountInString(s) + 3) / 4
	}
	return len(c.enc.Encode(s, nil, nil))
}
