package usage

import (
	"sync"

	"github.com/daulet/tokenizers"
)

// Estimator counts tokens in a string, preferring an exact tokenizer and
// falling back to a cheap heuristic when no tokenizer is loaded or the
// tokenizer call itself fails (§4.5: "token counts that can't be derived
// from upstream usage fall back to max(1, round(len/4))").
type Estimator struct {
	mu         sync.RWMutex
	tokenizers map[string]*tokenizers.Tokenizer // keyed by the model id given to LoadFromFile and Count (the dispatcher passes the upstream model name)
}

// NewEstimator returns an Estimator with no tokenizers loaded; callers load
// them lazily via LoadFromFile as models are first used, the same
// load-on-demand pattern the teacher's config.Load uses for provider
// credentials rather than eagerly validating everything at startup.
func NewEstimator() *Estimator {
	return &Estimator{tokenizers: make(map[string]*tokenizers.Tokenizer)}
}

// LoadFromFile loads a HuggingFace tokenizer.json for modelID from path.
// Safe to call concurrently; a later successful load replaces an earlier
// one for the same model.
func (e *Estimator) LoadFromFile(modelID, path string) error {
	tk, err := tokenizers.FromFile(path)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if old, ok := e.tokenizers[modelID]; ok {
		old.Close()
	}
	e.tokenizers[modelID] = tk
	e.mu.Unlock()
	return nil
}

// Close releases every loaded tokenizer's underlying Rust allocation.
func (e *Estimator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, tk := range e.tokenizers {
		tk.Close()
	}
	e.tokenizers = make(map[string]*tokenizers.Tokenizer)
}

// Count returns the token count of text for modelID. It never errors: a
// missing or failing tokenizer silently falls through to the heuristic,
// since token estimation feeds cost display, not billing-of-record (the
// provider's own usage numbers are authoritative whenever they're present).
func (e *Estimator) Count(modelID, text string) int {
	e.mu.RLock()
	tk, ok := e.tokenizers[modelID]
	e.mu.RUnlock()
	if !ok {
		return heuristicTokenCount(text)
	}

	ids, _ := tk.Encode(text, false)
	if len(ids) == 0 && text != "" {
		return heuristicTokenCount(text)
	}
	return len(ids)
}

// heuristicTokenCount implements the documented fallback: one token per
// four characters, rounded, with a floor of 1 for any non-empty string.
func heuristicTokenCount(text string) int {
	if text == "" {
		return 0
	}
	n := (len(text) + 2) / 4 // round(len/4) via integer arithmetic
	if n < 1 {
		n = 1
	}
	return n
}
