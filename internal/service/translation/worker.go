// Package translation implements the TranslationRouter (spec §4.8): a fast,
// cancellable PartialWorker and a best-quality, never-cancelled FinalWorker, both
// backed by an LLM translation call, with caching and per-target fan-out.
package translation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"caption-relay/internal/observability/metrics"
)

// openaiRateLimit bounds outbound chat-completions requests per process. A single
// final commit can fan out to several target languages at once (Router.TranslateFinal
// via errgroup), so an unbounded burst against the OpenAI API is the common case, not
// an edge case.
const openaiRateLimit = 20 // requests/sec, burst 20

// Config tunes both workers. Values are named in spec §4.8 and its testable
// properties list ("partial worker: cache size, cache TTL ms; final worker: cache
// size, cache TTL ms").
type Config struct {
	Model           string
	PartialCacheSize int
	PartialCacheTTL  time.Duration
	FinalCacheSize   int
	FinalCacheTTL    time.Duration
}

// DefaultConfig returns the defaults named in spec §4.8 and §5 ("partial cache size
// capped (e.g., 200 entries); final cache size capped (e.g., 100)").
func DefaultConfig() Config {
	return Config{
		Model:            string(shared.ChatModelGPT4oMini),
		PartialCacheSize: 200,
		PartialCacheTTL:  120 * time.Second,
		FinalCacheSize:   100,
		FinalCacheTTL:    600 * time.Second,
	}
}

// LLMClient is the subset of the OpenAI chat completions surface the workers need.
// Tests (in this package and others) substitute a fake to avoid a real network call.
type LLMClient interface {
	Translate(ctx context.Context, model, text, sourceLang, targetLang string) (string, error)
}

// llmClient is kept as an internal alias so existing unexported code in this package
// reads the same as before the type was exported for cross-package test injection.
type llmClient = LLMClient

// openaiClient adapts github.com/openai/openai-go/v3 to llmClient, grounded on
// aimuz-transy's livetranslate/openai client usage.
type openaiClient struct {
	client  openai.Client
	limiter *rate.Limiter
}

func newOpenAIClient(apiKey string) *openaiClient {
	return &openaiClient{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		limiter: rate.NewLimiter(rate.Limit(openaiRateLimit), openaiRateLimit),
	}
}

func (c *openaiClient) Translate(ctx context.Context, model, text, sourceLang, targetLang string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("translation rate limit: %w", err)
	}

	prompt := fmt.Sprintf(
		"Translate the following %s text into %s. Preserve meaning, tone, and formatting. "+
			"Reply with only the translated text, no commentary.\n\n%s", sourceLang, targetLang, text)

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage("You are a real-time captioning translator."),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
	})
	if err != nil {
		return "", fmt.Errorf("translation request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("translation request: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// pendingPartial tracks the in-flight partial request for a given (key, targetLang)
// pair so a later, non-extending partial can cancel it.
type pendingPartial struct {
	cancel context.CancelFunc
	text   string
}

// PartialWorker issues low-latency, cancellable translations for in-progress
// segments. Requests are cancelled when a newer partial is not a textual
// extension of the one currently in flight (spec §4.8).
type PartialWorker struct {
	llm     llmClient
	model   string
	cache   *cache
	metrics *metrics.Metrics
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[string]*pendingPartial
}

// NewPartialWorker builds a PartialWorker against a real OpenAI client.
func NewPartialWorker(apiKey string, cfg Config, m *metrics.Metrics, log zerolog.Logger) *PartialWorker {
	return newPartialWorker(newOpenAIClient(apiKey), cfg, m, log)
}

// NewPartialWorkerWithClient builds a PartialWorker against a caller-supplied
// LLMClient, bypassing the real OpenAI wiring. Used by other packages' tests that
// need a Router without a network dependency.
func NewPartialWorkerWithClient(llm LLMClient, cfg Config, m *metrics.Metrics, log zerolog.Logger) *PartialWorker {
	return newPartialWorker(llm, cfg, m, log)
}

func newPartialWorker(llm llmClient, cfg Config, m *metrics.Metrics, log zerolog.Logger) *PartialWorker {
	return &PartialWorker{
		llm:     llm,
		model:   cfg.Model,
		cache:   newCache(cfg.PartialCacheSize, cfg.PartialCacheTTL),
		metrics: m,
		log:     log,
		pending: make(map[string]*pendingPartial),
	}
}

// Translate translates text for one target language. key identifies the logical
// segment stream (e.g. sessionId:sourceSeqId) so repeated partials for the same
// utterance share cancellation state.
func (w *PartialWorker) Translate(ctx context.Context, key, text, sourceLang, targetLang string) (string, error) {
	cacheKey := buildCacheKey(sourceLang, targetLang, text)
	if cached, ok := w.cache.get(cacheKey, text); ok {
		w.recordCacheHit()
		return cached, nil
	}

	pendingKey := key + "|" + targetLang
	reqCtx, cancel := w.arm(pendingKey, text, ctx)
	defer w.disarm(pendingKey, text, cancel)

	start := time.Now()
	result, err := w.llm.Translate(reqCtx, w.model, text, sourceLang, targetLang)
	w.record(targetLang, err, time.Since(start))
	if err != nil {
		return "", err
	}

	w.cache.set(cacheKey, text, result)
	return result, nil
}

func (w *PartialWorker) arm(pendingKey, text string, parent context.Context) (context.Context, context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prior, ok := w.pending[pendingKey]; ok && !isExtension(prior.text, text) {
		prior.cancel()
	}

	reqCtx, cancel := context.WithCancel(parent)
	w.pending[pendingKey] = &pendingPartial{cancel: cancel, text: text}
	return reqCtx, cancel
}

func (w *PartialWorker) disarm(pendingKey, text string, cancel context.CancelFunc) {
	w.mu.Lock()
	if cur, ok := w.pending[pendingKey]; ok && cur.text == text {
		delete(w.pending, pendingKey)
	}
	w.mu.Unlock()
	cancel()
}

func (w *PartialWorker) record(targetLang string, err error, elapsed time.Duration) {
	if w.metrics == nil {
		return
	}
	w.metrics.RecordTranslation("partial", targetLang, err, elapsed.Seconds())
}

func (w *PartialWorker) recordCacheHit() {
	if w.metrics != nil {
		w.metrics.RecordTranslationCacheHit("partial")
	}
}

// FinalWorker issues best-quality translations for committed segments. Requests
// are never cancelled and a remote failure is propagated rather than swallowed
// (spec §4.8: "throws on remote failure").
type FinalWorker struct {
	llm     llmClient
	model   string
	cache   *cache
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewFinalWorker builds a FinalWorker against a real OpenAI client.
func NewFinalWorker(apiKey string, cfg Config, m *metrics.Metrics, log zerolog.Logger) *FinalWorker {
	return newFinalWorker(newOpenAIClient(apiKey), cfg, m, log)
}

// NewFinalWorkerWithClient builds a FinalWorker against a caller-supplied LLMClient,
// bypassing the real OpenAI wiring. Used by other packages' tests that need a
// Router without a network dependency.
func NewFinalWorkerWithClient(llm LLMClient, cfg Config, m *metrics.Metrics, log zerolog.Logger) *FinalWorker {
	return newFinalWorker(llm, cfg, m, log)
}

func newFinalWorker(llm llmClient, cfg Config, m *metrics.Metrics, log zerolog.Logger) *FinalWorker {
	return &FinalWorker{
		llm:     llm,
		model:   cfg.Model,
		cache:   newCache(cfg.FinalCacheSize, cfg.FinalCacheTTL),
		metrics: m,
		log:     log,
	}
}

// Translate translates a committed segment's text for one target language.
func (w *FinalWorker) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	cacheKey := buildCacheKey(sourceLang, targetLang, text)
	if cached, ok := w.cache.get(cacheKey, text); ok {
		if w.metrics != nil {
			w.metrics.RecordTranslationCacheHit("final")
		}
		return cached, nil
	}

	start := time.Now()
	result, err := w.llm.Translate(ctx, w.model, text, sourceLang, targetLang)
	if w.metrics != nil {
		w.metrics.RecordTranslation("final", targetLang, err, time.Since(start).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("final translation failed: %w", err)
	}

	w.cache.set(cacheKey, text, result)
	return result, nil
}
