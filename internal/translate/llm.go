package translate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/cnyy99/giggle/internal/config"
)

const defaultLLMModel = "gpt-3.5-turbo"

// llmProvider translates via a chat-completion model. It is the preferred
// provider: quality is the best of the chain, latency the worst.
type llmProvider struct {
	client oai.Client
	model  string
}

func newLLMProvider(cfg config.TranslateConfig, httpClient *http.Client) *llmProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.LLMAPIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.LLMBaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.LLMBaseURL))
	}
	model := cfg.LLMModel
	if model == "" {
		model = defaultLLMModel
	}
	return &llmProvider{client: oai.NewClient(reqOpts...), model: model}
}

func (p *llmProvider) Name() string { return "llm" }

func (p *llmProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	system := fmt.Sprintf(
		"You are a professional translator. Translate the user's text from %s to %s. "+
			"Reply with only the translation, no explanations.",
		languageName(sourceLang), languageName(targetLang))

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(system),
			oai.UserMessage(text),
		},
		Temperature:         param.NewOpt(0.3),
		MaxCompletionTokens: param.NewOpt(int64(2000)),
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: empty choices in response")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", errors.New("llm: empty translation")
	}
	return out, nil
}
