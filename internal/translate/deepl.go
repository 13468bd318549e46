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

// deepLProvider calls the DeepL v2 REST API. The base URL selects the free
// or paid endpoint.
type deepLProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func newDeepLProvider(apiKey, baseURL string, client *http.Client) *deepLProvider {
	return &deepLProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (p *deepLProvider) Name() string { return "deepl" }

func (p *deepLProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	form := url.Values{
		"text":        {text},
		"source_lang": {deepLSourceLanguage(sourceLang)},
		"target_lang": {deepLLanguage(targetLang)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v2/translate", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("deepl: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("deepl: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("deepl: server returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("deepl: read response: %w", err)
	}
	var payload struct {
		Translations []struct {
			Text string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("deepl: parse response: %w", err)
	}
	if len(payload.Translations) == 0 {
		return "", errors.New("deepl: empty translations in response")
	}
	return payload.Translations[0].Text, nil
}
