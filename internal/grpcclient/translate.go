package grpcclient

import (
	"context"

	"github.com/koizumiiiii/Baketa-sub009/internal/resilience"
)

// Translate hands settled text to the helper's translation engine and
// returns the translation with the name of the engine that produced it.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, string, error) {
	resp, err := c.invoke(ctx, MethodTranslate, c.translateBreaker, resilience.TranslationRetryConfig(), TranslateTimeout, map[string]any{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	})
	if err != nil {
		return "", "", err
	}
	f := resp.GetFields()
	return f["translated_text"].GetStringValue(), f["engine"].GetStringValue(), nil
}
