package domain

import "golang.org/x/text/language"

// Language enumerates the languages the pipeline recognizes and
// translates between.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageKO Language = "KO"
	LanguageJP Language = "JP"
)

// Valid reports whether the language is supported.
func (l Language) Valid() bool {
	switch l {
	case LanguageEN, LanguageKO, LanguageJP:
		return true
	}
	return false
}

// Tag maps the language onto its BCP-47 tag for the external OCR and
// translation engines.
func (l Language) Tag() language.Tag {
	switch l {
	case LanguageKO:
		return language.Korean
	case LanguageJP:
		return language.Japanese
	default:
		return language.English
	}
}

// ParseLanguage validates a client-supplied language code.
func ParseLanguage(s string) (Language, error) {
	l := Language(s)
	if !l.Valid() {
		return "", ErrInvalidLanguage
	}
	return l, nil
}
