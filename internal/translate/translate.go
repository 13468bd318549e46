// Package translate fans one source string out to every requested target
// language, concurrently, with provider fallback and cooperative
// cancellation. The provider chain is ordered by quality: an LLM translator
// first, then Google Cloud Translation, DeepL, LibreTranslate, and finally a
// literal placeholder that never fails.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cnyy99/giggle/internal/config"
	"github.com/cnyy99/giggle/internal/resilience"
)

// ErrCancelled reports that the task was cancelled while the translation was
// in flight. It is the only error [Router.Translate] returns; per-target
// failures are absorbed into the result map.
var ErrCancelled = errors.New("translate: task cancelled")

// Provider translates one string into one target language.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Canceller answers whether a task has a pending cancellation request. The
// registry's cancelled set satisfies this interface.
type Canceller interface {
	IsCancelled(taskID string) bool
}

// Router drives the per-target fan-out over a shared provider chain.
type Router struct {
	group     *resilience.FallbackGroup[Provider]
	cancelled Canceller
	log       *slog.Logger
}

// newHTTPClient builds the client shared by the REST providers: a 60 s
// overall deadline with a 10 s dial timeout, so one hung provider cannot eat
// the whole translation budget.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		},
	}
}

// NewRouter assembles the provider chain from the configured credentials. A
// provider joins only when its key (or URL) is set; the literal fallback is
// always last, so the chain is never empty.
func NewRouter(cfg config.TranslateConfig, cancelled Canceller, log *slog.Logger) *Router {
	httpClient := newHTTPClient()

	var providers []Provider
	if cfg.LLMAPIKey != "" {
		providers = append(providers, newLLMProvider(cfg, httpClient))
	}
	if cfg.GoogleAPIKey != "" {
		providers = append(providers, newGoogleProvider(cfg.GoogleAPIKey, httpClient))
	}
	if cfg.DeepLAPIKey != "" {
		providers = append(providers, newDeepLProvider(cfg.DeepLAPIKey, cfg.DeepLAPIURL, httpClient))
	}
	if cfg.LibreURL != "" {
		providers = append(providers, newLibreProvider(cfg.LibreURL, httpClient))
	}
	providers = append(providers, literalProvider{})

	fbCfg := resilience.FallbackConfig{Logger: log}
	group := resilience.NewFallbackGroup(providers[0], providers[0].Name(), fbCfg)
	for _, p := range providers[1:] {
		group.AddFallback(p.Name(), p)
	}

	log.Info("translation provider chain assembled", "providers", len(providers))
	return &Router{group: group, cancelled: cancelled, log: log}
}

// Translate resolves text into every target language. Per-target failures
// record the sentinel string "[Translation Error: <reason>]" instead of
// failing the call; the result always carries sourceLang → text. The only
// error returned is [ErrCancelled].
func (r *Router) Translate(ctx context.Context, text, sourceLang string, targets []string, taskID string) (map[string]string, error) {
	if r.cancelled.IsCancelled(taskID) {
		return nil, ErrCancelled
	}

	var (
		mu      sync.Mutex
		results = make(map[string]string, len(targets)+1)
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		if target == sourceLang {
			continue
		}
		g.Go(func() error {
			if r.cancelled.IsCancelled(taskID) {
				return ErrCancelled
			}
			out, err := r.translateOne(ctx, text, sourceLang, target, taskID)
			if err != nil {
				if r.cancelled.IsCancelled(taskID) {
					return ErrCancelled
				}
				r.log.Warn("all providers failed for target",
					"task_id", taskID, "target", target, "error", err)
				out = fmt.Sprintf("[Translation Error: %v]", err)
			}
			mu.Lock()
			results[target] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if r.cancelled.IsCancelled(taskID) {
		return nil, ErrCancelled
	}

	results[sourceLang] = text
	return results, nil
}

// translateOne walks the provider chain for a single target language. The
// cancelled set is re-checked before every attempt so a cancellation arriving
// mid-chain stops further network calls.
func (r *Router) translateOne(ctx context.Context, text, sourceLang, targetLang, taskID string) (string, error) {
	return resilience.ExecuteWithResult(r.group, func(p Provider) (string, error) {
		if r.cancelled.IsCancelled(taskID) {
			return "", ErrCancelled
		}
		return p.Translate(ctx, text, sourceLang, targetLang)
	})
}
