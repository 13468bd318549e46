package translate

import (
	"context"
	"fmt"
)

// literalProvider is the terminal fallback: it marks the text as
// untranslated instead of failing, so the packed result always has an entry
// for every requested target.
type literalProvider struct{}

func (literalProvider) Name() string { return "literal" }

func (literalProvider) Translate(_ context.Context, text, sourceLang, targetLang string) (string, error) {
	return fmt.Sprintf("[Translated from %s to %s]: %s", sourceLang, targetLang, text), nil
}
