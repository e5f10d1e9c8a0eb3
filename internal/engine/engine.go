// Package engine wires the store, embedder, ranker, pattern tracker and
// maintenance passes behind the save and retrieval contracts the hooks
// and CLI consume.
package engine

import (
	"fmt"
	"path/filepath"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/config"
	"github.com/nextlevelbuilder/mnemo/internal/embed"
	"github.com/nextlevelbuilder/mnemo/internal/maintain"
	"github.com/nextlevelbuilder/mnemo/internal/patterns"
	"github.com/nextlevelbuilder/mnemo/internal/rank"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// Engine owns the component handles. There are no package-level
// singletons; everything flows through here.
type Engine struct {
	Cfg      *config.Config
	Paths    config.Paths
	Clock    *clock.Clock
	Store    *store.Store
	Embedder *embed.Embedder
	Ranker   *rank.Ranker
	Patterns *patterns.Tracker
	Maint    *maintain.Maintainer
}

// Open builds an Engine from config, creating the base layout on first
// use.
func Open(cfg *config.Config, clk *clock.Clock) (*Engine, error) {
	base, err := config.ResolveBase(cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	paths := config.Paths{Base: base}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}

	st, err := store.Open(paths.StoreFile())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	model, err := embed.NewModel(cfg.Embedder.Backend,
		resolveModelPath(paths, cfg.Embedder.ModelPath),
		resolveModelPath(paths, cfg.Embedder.TokenizerPath), "")
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init embedding model: %w", err)
	}

	catalog, err := embed.LoadCatalog(paths.TemplatesFile())
	if err != nil {
		st.Close()
		return nil, err
	}

	emb := embed.New(model, catalog)
	ranker := rank.New(st, clk)

	return &Engine{
		Cfg:      cfg,
		Paths:    paths,
		Clock:    clk,
		Store:    st,
		Embedder: emb,
		Ranker:   ranker,
		Patterns: patterns.New(st, ranker, clk),
		Maint:    maintain.New(st, clk),
	}, nil
}

// Close releases the store.
func (e *Engine) Close() error {
	return e.Store.Close()
}

// MaxSearchLimit caps a single retrieval call.
const MaxSearchLimit = 100

// Search runs the retrieval contract: auto mode selection, hybrid
// fusion, access bumping. The query vector is computed here unless the
// fast path makes it unnecessary.
func (e *Engine) Search(query string, opts rank.Options) ([]store.Entry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Limit > MaxSearchLimit {
		opts.Limit = MaxSearchLimit
	}

	var vQuery []float32
	if opts.Mode != rank.ModeFast && query != "" {
		v, err := e.Embedder.Embed(query)
		if err == nil {
			vQuery = v
		}
		// A failed query embedding degrades ranking to lexical-only.
	}
	return e.Ranker.Search(query, vQuery, opts)
}

// Maintain runs the lifecycle passes.
func (e *Engine) Maintain() (maintain.Report, error) {
	return e.Maint.Run()
}

// Status summarises the store.
func (e *Engine) Status() (store.Status, error) {
	return e.Store.Status()
}

func resolveModelPath(paths config.Paths, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(paths.ModelsDir(), p)
}
