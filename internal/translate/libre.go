package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// libreProvider calls a LibreTranslate endpoint, typically the public
// instance. Last resort before the literal placeholder.
type libreProvider struct {
	endpoint string
	client   *http.Client
}

func newLibreProvider(endpoint string, client *http.Client) *libreProvider {
	return &libreProvider{endpoint: endpoint, client: client}
}

func (p *libreProvider) Name() string { return "libre" }

func (p *libreProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	reqBody, err := json.Marshal(map[string]string{
		"q":      text,
		"source": libreLanguage(sourceLang),
		"target": libreLanguage(targetLang),
		"format": "text",
	})
	if err != nil {
		return "", fmt.Errorf("libre: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint,
		bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("libre: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("libre: http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("libre: server returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("libre: read response: %w", err)
	}
	var payload struct {
		TranslatedText string `json:"translatedText"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("libre: parse response: %w", err)
	}
	if payload.TranslatedText == "" {
		return "", errors.New("libre: empty translation in response")
	}
	return payload.TranslatedText, nil
}
