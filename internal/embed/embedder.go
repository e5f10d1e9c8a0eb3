package embed

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheSize is the process-local LRU capacity.
const cacheSize = 100

// Embedder wraps a Model with a process-local LRU cache and the lazily
// built template sets used for classification.
type Embedder struct {
	model Model
	cache *lru.Cache[string, []float32]

	tmplMu    sync.Mutex
	templates map[string][]Template // set name -> embedded templates
	catalog   *Catalog
}

// Classification is a template-set match.
type Classification struct {
	Category   string
	Similarity float64
}

// New creates an Embedder over the given model. catalog may be nil to
// use the built-in template catalogues.
func New(model Model, catalog *Catalog) *Embedder {
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Embedder{
		model:     model,
		cache:     cache,
		templates: make(map[string][]Template),
		catalog:   catalog,
	}
}

// Embed returns the unit-norm vector for text, serving repeats from the
// cache. The cache key normalises case and surrounding whitespace.
func (e *Embedder) Embed(text string) ([]float32, error) {
	key := strings.ToLower(strings.TrimSpace(text))
	if v, ok := e.cache.Get(key); ok {
		return v, nil
	}

	v, err := e.model.Embed(text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	e.cache.Add(key, v)
	return v, nil
}

// Classify embeds text and returns the best-matching template category
// from the named set, iff its cosine similarity meets the threshold.
func (e *Embedder) Classify(text, set string, threshold float64) (*Classification, error) {
	templates, err := e.templateSet(set)
	if err != nil {
		return nil, err
	}
	v, err := e.Embed(text)
	if err != nil {
		return nil, err
	}

	best := Classification{Similarity: -1}
	for _, t := range templates {
		if sim := Dot(v, t.Vec); sim > best.Similarity {
			best = Classification{Category: t.Category, Similarity: sim}
		}
	}
	if best.Similarity < threshold {
		return nil, nil
	}
	return &best, nil
}

// Warm primes the model and the template sets in the background. Purely
// an optimisation; errors are logged and dropped.
func (e *Embedder) Warm(sets ...string) {
	go func() {
		if _, err := e.Embed("warm-up"); err != nil {
			slog.Debug("embedder warm-up failed", "error", err)
			return
		}
		for _, set := range sets {
			if _, err := e.templateSet(set); err != nil {
				slog.Debug("template warm-up failed", "set", set, "error", err)
			}
		}
	}()
}

// templateSet returns the embedded templates for a set, building them on
// first use.
func (e *Embedder) templateSet(set string) ([]Template, error) {
	e.tmplMu.Lock()
	defer e.tmplMu.Unlock()

	if ts, ok := e.templates[set]; ok {
		return ts, nil
	}

	catalog := e.catalog
	if catalog == nil {
		catalog = builtinCatalog()
	}
	specs, ok := catalog.Sets[set]
	if !ok {
		return nil, fmt.Errorf("unknown template set %q", set)
	}

	ts := make([]Template, 0, len(specs))
	for _, spec := range specs {
		v, err := e.model.Embed(spec.Text)
		if err != nil {
			return nil, fmt.Errorf("embed template %q: %w", spec.Text, err)
		}
		ts = append(ts, Template{Category: spec.Category, Text: spec.Text, Vec: v})
	}
	e.templates[set] = ts
	return ts, nil
}
