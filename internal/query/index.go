package query

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
)

const snippetLen = 200

var ErrDimensionMismatch = errors.New("query: vector dimension mismatch")

// Entry is one indexed asset.
type Entry struct {
	AssetID string
	Title   string
	Content string
	Vector  []float32
}

// MemoryIndex is an in-process Index ranking by cosine similarity.
type MemoryIndex struct {
	mu      sync.RWMutex
	domains map[string]map[string]Entry
}

var _ Index = (*MemoryIndex)(nil)

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{domains: make(map[string]map[string]Entry)}
}

func (m *MemoryIndex) Upsert(_ context.Context, domainID string, e Entry) error {
	if len(e.Vector) == 0 {
		return ErrDimensionMismatch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entries, ok := m.domains[domainID]
	if !ok {
		entries = make(map[string]Entry)
		m.domains[domainID] = entries
	}
	// All vectors in a domain share one dimension, so comparing against any other entry suffices.
	for id, other := range entries {
		if id == e.AssetID {
			continue
		}
		if len(other.Vector) != len(e.Vector) {
			return ErrDimensionMismatch
		}
		break
	}
	e.Vector = append([]float32(nil), e.Vector...)
	entries[e.AssetID] = e
	return nil
}

// Search returns up to k matches ordered by descending score, ties broken by asset id.
func (m *MemoryIndex) Search(_ context.Context, domainID string, vector []float32, k int) ([]Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.domains[domainID]
	matches := make([]Match, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != len(vector) {
			return nil, ErrDimensionMismatch
		}
		matches = append(matches, Match{
			AssetID: e.AssetID,
			Title:   e.Title,
			Snippet: snippet(e.Content),
			Score:   cosine(vector, e.Vector),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].AssetID < matches[j].AssetID
		}
		return matches[i].Score > matches[j].Score
	})
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len reports how many assets are indexed in domainID.
func (m *MemoryIndex) Len(domainID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.domains[domainID])
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetLen {
		return s
	}
	return string(r[:snippetLen]) + "…"
}
