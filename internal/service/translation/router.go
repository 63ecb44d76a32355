package translation

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"caption-relay/internal/observability/metrics"
)

// truncationLengthHint is a soft heuristic for detecting a response cut off by the
// model's max-token ceiling: a result this long with no trailing sentence-ending
// punctuation or whitespace is likely truncated rather than genuinely finished.
const truncationLengthHint = 3500

// Router fans a single source text out to every requested target language,
// dispatching partials to the PartialWorker and finals to the FinalWorker
// (spec §4.8, "fan-out to each listener's target language").
type Router struct {
	Partial *PartialWorker
	Final   *FinalWorker
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// New builds a Router with a real OpenAI-backed PartialWorker/FinalWorker pair.
func New(apiKey string, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Router {
	return &Router{
		Partial: NewPartialWorker(apiKey, cfg, m, log),
		Final:   NewFinalWorker(apiKey, cfg, m, log),
		metrics: m,
		log:     log,
	}
}

// TranslatePartial translates an in-progress segment's text into every target
// language concurrently. A per-target failure is logged and omitted from the
// result map rather than aborting the other targets, since partials are
// best-effort by nature.
func (r *Router) TranslatePartial(ctx context.Context, key, text, sourceLang string, targetLangs []string) map[string]string {
	results := make(map[string]string, len(targetLangs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range targetLangs {
		lang := lang
		g.Go(func() error {
			translated, err := r.Partial.Translate(gctx, key, text, sourceLang, lang)
			if err != nil {
				r.log.Debug().Err(err).Str("targetLang", lang).Msg("partial translation abandoned")
				return nil
			}
			r.checkTruncation("partial", lang, translated)

			mu.Lock()
			results[lang] = translated
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// TranslateFinal translates a committed segment's text into every target language
// concurrently. Unlike partials, a remote failure here is propagated to the
// caller (spec §4.8: "throws on remote failure").
func (r *Router) TranslateFinal(ctx context.Context, text, sourceLang string, targetLangs []string) (map[string]string, error) {
	results := make(map[string]string, len(targetLangs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, lang := range targetLangs {
		lang := lang
		g.Go(func() error {
			translated, err := r.Final.Translate(gctx, text, sourceLang, lang)
			if err != nil {
				return err
			}
			r.checkTruncation("final", lang, translated)

			mu.Lock()
			results[lang] = translated
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Router) checkTruncation(worker, targetLang, result string) {
	if len(result) < truncationLengthHint {
		return
	}
	trimmed := strings.TrimRight(result, " \t\n\r")
	if trimmed == "" {
		return
	}
	last := trimmed[len(trimmed)-1]
	switch last {
	case '.', '!', '?', '。', '！', '？', '"', '\'', ')':
		return
	}
	if r.metrics != nil {
		r.metrics.RecordTranslationTruncation(worker, targetLang)
	}
}
