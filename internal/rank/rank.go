// Package rank fuses lexical and vector retrieval into the hybrid
// ranking the engine serves: RRF merge, temporal decay, tier weight and
// access confidence.
package rank

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/nextlevelbuilder/mnemo/internal/clock"
	"github.com/nextlevelbuilder/mnemo/internal/store"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeAuto     Mode = ""
	ModeHybrid   Mode = "hybrid"
	ModeFast     Mode = "fast"
	ModeSemantic Mode = "semantic"
)

// Fusion constants.
const (
	rrfK          = 60
	candidateMult = 3
	decayHalfLife = 30.0 // days
)

// Tier weights applied to the fused score.
var tierWeights = map[string]float64{
	store.TierLongterm:  1.5,
	store.TierWorking:   1.0,
	store.TierEphemeral: 0.5,
}

// Options filters a retrieval call.
type Options struct {
	Type            string
	Days            int // 0 means unbounded
	Limit           int
	Tier            string
	IncludeArchived bool
	Project         string
	Mode            Mode
}

// Ranker performs hybrid retrieval over the store.
type Ranker struct {
	store *store.Store
	clk   *clock.Clock
}

// New creates a Ranker.
func New(s *store.Store, clk *clock.Clock) *Ranker {
	return &Ranker{store: s, clk: clk}
}

var bareTokenRe = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Search retrieves up to opts.Limit entries for the query. vQuery may be
// nil, in which case ranking degrades to lexical-only. Returned entries
// get an access bump.
func (r *Ranker) Search(query string, vQuery []float32, opts Options) ([]store.Entry, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}

	mode := opts.Mode
	if mode == ModeAuto {
		if bareTokenRe.MatchString(query) {
			mode = ModeFast
		} else {
			mode = ModeHybrid
		}
	}

	var (
		results []store.Entry
		err     error
	)
	switch mode {
	case ModeFast:
		results, err = r.fast(query, opts)
	case ModeSemantic:
		results, err = r.semantic(vQuery, opts)
	default:
		results, err = r.hybrid(query, vQuery, opts)
	}
	if err != nil {
		return nil, err
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, e := range results {
			ids[i] = e.ID
		}
		if err := r.store.BumpAccess(ids, r.clk.TodayLocal()); err != nil {
			slog.Warn("access bump failed", "error", err)
		}
	}
	return results, nil
}

func (r *Ranker) searchOpts(opts Options, limit int) store.SearchOptions {
	return store.SearchOptions{
		Type:            opts.Type,
		Since:           r.sinceCutoff(opts.Days),
		Limit:           limit,
		IncludeArchived: opts.IncludeArchived,
	}
}

// sinceCutoff converts a day window into the inclusive date lower bound
// today-days+1, so days=1 means "today only".
func (r *Ranker) sinceCutoff(days int) string {
	if days <= 0 {
		return ""
	}
	today, err := parseYMD(r.clk.TodayLocal())
	if err != nil {
		return ""
	}
	return today.AddDate(0, 0, -(days - 1)).Format("2006-01-02")
}

func (r *Ranker) fast(query string, opts Options) ([]store.Entry, error) {
	entries, err := r.store.SearchLexical(query, r.searchOpts(opts, opts.Limit*candidateMult))
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	entries = r.filter(entries, opts)
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func (r *Ranker) semantic(vQuery []float32, opts Options) ([]store.Entry, error) {
	if vQuery == nil {
		return nil, nil
	}
	hits, err := r.store.SearchVec(vQuery, opts.Limit*candidateMult)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	rowIDs := make([]int64, len(hits))
	for i, h := range hits {
		rowIDs[i] = h.RowID
	}
	entries, err := r.store.GetByRowIDs(rowIDs)
	if err != nil {
		return nil, err
	}
	entries = orderByRowIDs(entries, rowIDs)
	entries = r.filter(entries, opts)
	if opts.Days > 0 {
		entries = filterSince(entries, r.sinceCutoff(opts.Days))
	}
	if opts.Type != "" {
		entries = filterType(entries, opts.Type)
	}
	if len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
	}
	return entries, nil
}

func (r *Ranker) hybrid(query string, vQuery []float32, opts Options) ([]store.Entry, error) {
	cand := opts.Limit * candidateMult

	lexical, err := r.store.SearchLexical(query, r.searchOpts(opts, cand))
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}

	var vec []store.VecResult
	if vQuery != nil {
		vec, err = r.store.SearchVec(vQuery, cand)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w", err)
		}
	}

	// RRF merge by internal row id across both ranked lists.
	rrf := make(map[int64]float64)
	byRow := make(map[int64]store.Entry, len(lexical))
	for rank, e := range lexical {
		rrf[e.RowID] += 1.0 / float64(rrfK+rank+1)
		byRow[e.RowID] = e
	}
	for rank, h := range vec {
		rrf[h.RowID] += 1.0 / float64(rrfK+rank+1)
	}

	// Load entries the lexical pass didn't already carry.
	var missing []int64
	for rowID := range rrf {
		if _, ok := byRow[rowID]; !ok {
			missing = append(missing, rowID)
		}
	}
	if len(missing) > 0 {
		loaded, err := r.store.GetByRowIDs(missing)
		if err != nil {
			return nil, err
		}
		for _, e := range loaded {
			byRow[e.RowID] = e
		}
	}

	type scored struct {
		entry store.Entry
		score float64
	}
	var pool []scored
	today := r.clk.TodayLocal()
	since := r.sinceCutoff(opts.Days)
	for rowID, base := range rrf {
		e, ok := byRow[rowID]
		if !ok {
			continue // vector row whose entry vanished; tolerate
		}
		if e.Archived && !opts.IncludeArchived {
			continue
		}
		if opts.Tier != "" && e.Tier != opts.Tier {
			continue
		}
		if opts.Type != "" && e.Type != opts.Type {
			continue
		}
		if opts.Project != "" && e.Project != opts.Project {
			continue
		}
		if since != "" && e.Date < since {
			continue
		}
		pool = append(pool, scored{entry: e, score: base * decay(e.Date, today) * tierWeight(e.Tier) * Confidence(e.AccessCount)})
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].score != pool[j].score {
			return pool[i].score > pool[j].score
		}
		a, b := pool[i].entry, pool[j].entry
		if a.Date != b.Date {
			return a.Date > b.Date
		}
		return a.Time > b.Time
	})

	if len(pool) > opts.Limit {
		pool = pool[:opts.Limit]
	}
	out := make([]store.Entry, len(pool))
	for i, s := range pool {
		out[i] = s.entry
	}
	return out, nil
}

// FindSimilarIssues returns non-archived issues within the day window
// whose stored vector lies within the L2 distance threshold of v. No
// access bumping.
func (r *Ranker) FindSimilarIssues(v []float32, days int, distanceThreshold float64) ([]store.Entry, error) {
	if v == nil {
		return nil, nil
	}
	if days <= 0 {
		days = 30
	}

	hits, err := r.store.SearchVec(v, 200)
	if err != nil {
		return nil, err
	}

	var rowIDs []int64
	dist := make(map[int64]float64)
	for _, h := range hits {
		if h.Distance <= distanceThreshold {
			rowIDs = append(rowIDs, h.RowID)
			dist[h.RowID] = h.Distance
		}
	}
	if len(rowIDs) == 0 {
		return nil, nil
	}

	entries, err := r.store.GetByRowIDs(rowIDs)
	if err != nil {
		return nil, err
	}

	since := r.sinceCutoff(days)
	var out []store.Entry
	for _, e := range entries {
		if e.Type != store.TypeIssue || e.Archived {
			continue
		}
		if since != "" && e.Date < since {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return dist[out[i].RowID] < dist[out[j].RowID]
	})
	return out, nil
}

// Confidence maps an access count to its score multiplier bucket.
func Confidence(accessCount int) float64 {
	switch {
	case accessCount >= 6:
		return 1.4
	case accessCount >= 3:
		return 1.2
	case accessCount >= 1:
		return 1.0
	default:
		return 0.7
	}
}

// decay computes 0.5^(age/30) with negative ages clamped to zero, so a
// future-dated entry scores as fresh rather than NaN.
func decay(date, today string) float64 {
	d, err := parseYMD(date)
	if err != nil {
		return 1.0
	}
	t, err := parseYMD(today)
	if err != nil {
		return 1.0
	}
	age := t.Sub(d).Hours() / 24
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, age/decayHalfLife)
}

func tierWeight(tier string) float64 {
	if w, ok := tierWeights[tier]; ok {
		return w
	}
	return 1.0
}

func (r *Ranker) filter(entries []store.Entry, opts Options) []store.Entry {
	var out []store.Entry
	for _, e := range entries {
		if e.Archived && !opts.IncludeArchived {
			continue
		}
		if opts.Tier != "" && e.Tier != opts.Tier {
			continue
		}
		if opts.Project != "" && e.Project != opts.Project {
			continue
		}
		out = append(out, e)
	}
	return out
}

func filterSince(entries []store.Entry, since string) []store.Entry {
	if since == "" {
		return entries
	}
	var out []store.Entry
	for _, e := range entries {
		if e.Date >= since {
			out = append(out, e)
		}
	}
	return out
}

func filterType(entries []store.Entry, t string) []store.Entry {
	var out []store.Entry
	for _, e := range entries {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func parseYMD(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func orderByRowIDs(entries []store.Entry, rowIDs []int64) []store.Entry {
	byRow := make(map[int64]store.Entry, len(entries))
	for _, e := range entries {
		byRow[e.RowID] = e
	}
	var out []store.Entry
	for _, id := range rowIDs {
		if e, ok := byRow[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
