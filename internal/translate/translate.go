// Package translate maps extracted text to a target language.
//
// Failures are reported as *errors.ProcessingError with code UNSUPPORTED_LANGUAGE or
// TRANSLATION_UNAVAILABLE; the source text is never returned in place of a translation.
package translate

import (
	"context"
	"regexp"
	"strings"

	apperrors "github.com/adverant/nexus/videotranslate-worker/internal/errors"
)

// Translator translates text into a target language. Implementations must be safe for concurrent use.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// LanguageLister is implemented by backends that can enumerate supported target codes.
type LanguageLister interface {
	SupportedLanguages(ctx context.Context) ([]string, error)
}

// Func adapts a function to Translator.
type Func func(ctx context.Context, text, targetLang string) (string, error)

func (f Func) Translate(ctx context.Context, text, targetLang string) (string, error) {
	return f(ctx, text, targetLang)
}

// ISO 639-1/639-2 code with an optional region or script subtag (fr, pt-BR, zh-Hant).
var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,4})?$`)

// ValidLanguageCode reports whether code has the shape of a language identifier.
func ValidLanguageCode(code string) bool {
	return languageCodePattern.MatchString(code)
}

// ValidateTarget checks the code shape and, when the backend can list languages, membership.
// An empty list means the backend does not know and is not treated as a rejection.
func ValidateTarget(ctx context.Context, t Translator, lang string) error {
	if !ValidLanguageCode(lang) {
		return apperrors.NewUnsupportedLanguageError(lang, nil)
	}

	lister, ok := t.(LanguageLister)
	if !ok {
		return nil
	}

	langs, err := lister.SupportedLanguages(ctx)
	if err != nil {
		return err
	}
	if len(langs) == 0 {
		return nil
	}
	for _, l := range langs {
		if strings.EqualFold(l, lang) {
			return nil
		}
	}
	return apperrors.NewUnsupportedLanguageError(lang, nil)
}
