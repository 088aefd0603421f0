package capability

import (
	"fmt"
	"unicode"
)

// Паттерны ключей памяти поддерживают единственный метасимвол '*'
// (любая последовательность символов, включая пустую). Никакого regex:
// матчинг обязан быть тотальным и без side-эффектов, т.к. живет на
// горячем пути каждой проверки доступа.

// ValidatePattern синтаксически проверяет glob-паттерн при парсинге
// манифеста, чтобы в рантайме матчинг уже не мог отказать.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty glob pattern")
	}
	for _, r := range pattern {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return fmt.Errorf("glob pattern %q contains whitespace or control characters", pattern)
		}
	}
	return nil
}

// ValidateToolName проверяет имя тула из allowlist'а манифеста.
// Разрешен либо wildcard "*", либо непустой идентификатор без пробелов.
func ValidateToolName(name string) error {
	if name == Wildcard {
		return nil
	}
	if name == "" {
		return fmt.Errorf("empty tool name")
	}
	for _, r := range name {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == '*' {
			return fmt.Errorf("tool name %q contains invalid characters", name)
		}
	}
	return nil
}

// globMatch — итеративный матчинг с backtracking по последней '*'.
// O(len(key)*len(pattern)) в худшем случае, ноль аллокаций.
func globMatch(pattern, key string) bool {
	var p, k int
	star, mark := -1, 0

	for k < len(key) {
		switch {
		case p < len(pattern) && (pattern[p] == key[k]):
			p++
			k++
		case p < len(pattern) && pattern[p] == '*':
			star = p
			mark = k
			p++
		case star >= 0:
			// Откат: '*' поглощает еще один символ ключа
			p = star + 1
			mark++
			k = mark
		default:
			return false
		}
	}

	// Хвост паттерна может состоять только из '*'
	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}
