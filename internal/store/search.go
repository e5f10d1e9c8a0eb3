package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
)

// VectorDim is the dimensionality of every stored vector.
const VectorDim = 384

// SearchLexical runs a BM25-ranked full-text query over content, tags
// and type. An empty or unmatchable query returns no results, never an
// error.
func (s *Store) SearchLexical(query string, opts SearchOptions) ([]Entry, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	q := fmt.Sprintf(`SELECT %s FROM entries_fts
		JOIN entries e ON e.id = entries_fts.id
		WHERE entries_fts MATCH ?`, prefixedEntryColumns("e"))
	args := []any{match}

	if !opts.IncludeArchived {
		q += " AND e.archived = 0"
	}
	if opts.Type != "" {
		q += " AND e.type = ?"
		args = append(args, opts.Type)
	}
	if opts.Since != "" {
		q += " AND e.date >= ?"
		args = append(args, opts.Since)
	}
	q += " ORDER BY entries_fts.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		// FTS5 rejects some token sequences as syntax errors; lexical
		// search degrades to empty rather than failing retrieval.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax") {
			return nil, nil
		}
		return nil, err
	}
	defer rows.Close()

	return collectEntries(rows)
}

// InsertVec attaches or replaces the unit-norm vector for a row.
func (s *Store) InsertVec(rowID int64, v []float32) error {
	if len(v) != VectorDim {
		return fmt.Errorf("%w: vector dim %d, want %d", ErrValidation, len(v), VectorDim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("INSERT OR REPLACE INTO vectors (entry_rowid, vec) VALUES (?, ?)",
		rowID, encodeVec(v))
	return err
}

// GetVec returns the stored vector for a row, or nil when absent.
func (s *Store) GetVec(rowID int64) ([]float32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var blob []byte
	err := s.db.QueryRow("SELECT vec FROM vectors WHERE entry_rowid = ?", rowID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeVec(blob)
}

// SearchVec scans the vector index for the nearest rows to v by L2
// distance (equivalent ordering to 1-cosine on unit-norm vectors).
func (s *Store) SearchVec(v []float32, limit int) ([]VecResult, error) {
	if len(v) != VectorDim {
		return nil, fmt.Errorf("%w: vector dim %d, want %d", ErrValidation, len(v), VectorDim)
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT entry_rowid, vec FROM vectors")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []VecResult
	for rows.Next() {
		var rowID int64
		var blob []byte
		if err := rows.Scan(&rowID, &blob); err != nil {
			return nil, err
		}
		stored, err := decodeVec(blob)
		if err != nil {
			// A corrupt vector degrades that row to lexical-only.
			continue
		}
		results = append(results, VecResult{RowID: rowID, Distance: l2Distance(v, stored)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].RowID < results[j].RowID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ftsQuery turns free text into an FTS5 match expression. Each token is
// quoted so punctuation in user queries cannot produce syntax errors.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		quoted = append(quoted, `"`+f+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func prefixedEntryColumns(alias string) string {
	cols := strings.Split(entryColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func encodeVec(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVec(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("corrupt vector blob: %d bytes", len(blob))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}

func l2Distance(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// CosineSimilarity computes the cosine of the angle between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
