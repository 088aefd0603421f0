package infra

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Detail-строки аудита не должны нести ни секретов, ни сырых
// payload'ов — леджер сам ничего не редактирует, санитизация лежит
// на вызывающем. Здесь общие примитивы для этого.

// maxDetailBytes — потолок длины detail-строки в цепочке.
const maxDetailBytes = 256

// TruncateString безопасно обрезает строку до max байт, никогда не
// разрезая UTF-8 символ посередине.
func TruncateString(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	end := maxBytes
	for end > 0 && !utf8.RuneStart(s[end]) {
		end--
	}
	return s[:end]
}

// SanitizeDetail приводит произвольный текст к форме, пригодной для
// detail-поля аудита: без управляющих символов, без переводов строк
// (они сломали бы каноническую сериализацию записи), с обрезкой по
// длине.
func SanitizeDetail(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return TruncateString(b.String(), maxDetailBytes)
}

// approxBytesPerToken — грубая эвристика «~4 байта на токен».
const approxBytesPerToken = 4

// EstimateTokens оценивает число LLM-токенов в тексте для списания
// квоты до реального вызова. Возвращает минимум 1 для непустой строки.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + approxBytesPerToken - 1) / approxBytesPerToken
}
