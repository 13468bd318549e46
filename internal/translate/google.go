package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const googleEndpoint = "https://translation.googleapis.com/language/translate/v2"

// googleProvider calls the Cloud Translation v2 REST API with an API key.
type googleProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

func newGoogleProvider(apiKey string, client *http.Client) *googleProvider {
	return &googleProvider{apiKey: apiKey, endpoint: googleEndpoint, client: client}
}

func (p *googleProvider) Name() string { return "google" }

func (p *googleProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	form := url.Values{
		"key":    {p.apiKey},
		"q":      {text},
		"source": {googleLanguage(sourceLang)},
		"target": {googleLanguage(targetLang)},
		"format": {"text"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("google: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("google: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("google: server returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("google: read response: %w", err)
	}
	var payload struct {
		Data struct {
			Translations []struct {
				TranslatedText string `json:"translatedText"`
			} `json:"translations"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("google: parse response: %w", err)
	}
	if len(payload.Data.Translations) == 0 {
		return "", errors.New("google: empty translations in response")
	}
	return payload.Data.Translations[0].TranslatedText, nil
}
