package manifest

import "fmt"

// ErrorKind классифицирует отказ верификации манифеста.
// Все отказы происходят до любой мутации состояния: после исправления
// входа вызывающий может безопасно повторить запрос.
type ErrorKind string

const (
	KindParse            ErrorKind = "parse_error"       // Битая структура TOML
	KindValidation       ErrorKind = "validation_error"  // Семантика: нулевые лимиты, битые glob'ы
	KindSignatureInvalid ErrorKind = "signature_invalid" // Подпись не сошлась с байтами манифеста
)

// Error — типизированная ошибка верификатора.
type Error struct {
	Kind   ErrorKind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("manifest %s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("manifest %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

func parseErr(detail string, cause error) *Error {
	return &Error{Kind: KindParse, Detail: detail, Cause: cause}
}

func validationErr(detail string) *Error {
	return &Error{Kind: KindValidation, Detail: detail}
}

func signatureErr(detail string) *Error {
	return &Error{Kind: KindSignatureInvalid, Detail: detail}
}
