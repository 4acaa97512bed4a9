package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/vanvuongngo/hindsight/internal/memory"
)

// MemStore is an in-memory backend implementing every Store interface.
// It is used by tests and by development deployments without Postgres.
// Safe for concurrent use; retrieval sees a consistent snapshot because
// seeding and reading are guarded by the same lock.
type MemStore struct {
	mu       sync.RWMutex
	banks    map[string]struct{}
	facts    map[string]memory.Fact
	entities map[string]memory.Entity
	links    map[string][]memory.Link
}

// NewMemStore returns an empty in-memory backend.
func NewMemStore() *MemStore {
	return &MemStore{
		banks:    make(map[string]struct{}),
		facts:    make(map[string]memory.Fact),
		entities: make(map[string]memory.Entity),
		links:    make(map[string][]memory.Link),
	}
}

// AsStore wraps the backend in a composite Store.
func (m *MemStore) AsStore() *Store {
	return New(m, m, m, m)
}

// AddBank registers a bank id.
func (m *MemStore) AddBank(bank string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banks[bank] = struct{}{}
}

// AddFact validates and stores a fact, registering its bank.
func (m *MemStore) AddFact(f memory.Fact) error {
	if err := f.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banks[f.BankID] = struct{}{}
	m.facts[f.ID] = f
	return nil
}

// AddEntity stores an entity, registering its bank.
func (m *MemStore) AddEntity(e memory.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.banks[e.BankID] = struct{}{}
	m.entities[e.ID] = e
}

// AddLink validates and stores a directed link. Both endpoints must already
// exist in the same bank.
func (m *MemStore) AddLink(l memory.Link) error {
	if err := l.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.facts[l.SourceID]
	if !ok {
		return fmt.Errorf("link source %s: unknown fact", l.SourceID)
	}
	dst, ok := m.facts[l.TargetID]
	if !ok {
		return fmt.Errorf("link target %s: unknown fact", l.TargetID)
	}
	if src.BankID != dst.BankID {
		return fmt.Errorf("link %s->%s crosses banks", l.SourceID, l.TargetID)
	}
	m.links[l.SourceID] = append(m.links[l.SourceID], l)
	return nil
}

func (m *MemStore) TopK(ctx context.Context, bank string, types []memory.FactType, queryVec []float32, k int, filter VectorFilter) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	qnorm := norm(queryVec)
	typeSet := factTypeSet(types)
	hits := make([]Hit, 0, k)
	for id, f := range m.facts {
		if f.BankID != bank {
			continue
		}
		if !typeSet[f.Type] {
			continue
		}
		if !passesTimeFilter(f, filter) {
			continue
		}
		sim := cosine(queryVec, f.Embedding, qnorm)
		if sim < filter.MinSimilarity {
			continue
		}
		hits = append(hits, Hit{FactID: id, Score: sim})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Search scores facts by summed term frequency over text and context,
// lowercased. Naive, but rank-compatible with the Postgres ts_rank path for
// the small corpora it serves.
func (m *MemStore) Search(ctx context.Context, bank string, types []memory.FactType, query string, k int) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if k <= 0 {
		k = 10
	}
	terms := strings.Fields(strings.ToLower(query))
	typeSet := factTypeSet(types)
	hits := make([]Hit, 0, k)
	for id, f := range m.facts {
		if f.BankID != bank || !typeSet[f.Type] {
			continue
		}
		text := strings.ToLower(f.Text + " " + f.Context)
		score := 0.0
		for _, t := range terms {
			if t == "" {
				continue
			}
			score += float64(strings.Count(text, t))
		}
		if score > 0 {
			hits = append(hits, Hit{FactID: id, Score: score})
		}
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *MemStore) LinksFrom(ctx context.Context, bank, factID string, types []memory.LinkType) ([]memory.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.facts[factID]
	if !ok || src.BankID != bank {
		return nil, nil
	}
	typeSet := make(map[memory.LinkType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	var out []memory.Link
	for _, l := range m.links[factID] {
		if len(types) == 0 || typeSet[l.Type] {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TargetID != out[j].TargetID {
			return out[i].TargetID < out[j].TargetID
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (m *MemStore) ResolveBank(ctx context.Context, bank string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.banks[bank]; !ok {
		return ErrBankNotFound
	}
	return nil
}

func (m *MemStore) FetchFacts(ctx context.Context, bank string, ids []string) ([]memory.Fact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]memory.Fact, 0, len(ids))
	for _, id := range ids {
		f, ok := m.facts[id]
		if !ok || f.BankID != bank {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

func (m *MemStore) EntityMentions(ctx context.Context, bank string, entityIDs []string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int, len(entityIDs))
	for _, id := range entityIDs {
		e, ok := m.entities[id]
		if !ok || e.BankID != bank {
			continue
		}
		out[id] = e.MentionCount
	}
	return out, nil
}

func (m *MemStore) EntityObservations(ctx context.Context, bank string, entityIDs []string, tokenCap int) ([]memory.EntityObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []memory.EntityObservation
	budget := tokenCap
	// Deterministic order: entity id, then fact id.
	ids := append([]string(nil), entityIDs...)
	sort.Strings(ids)
	for _, eid := range ids {
		ent, ok := m.entities[eid]
		if !ok || ent.BankID != bank {
			continue
		}
		var factIDs []string
		for fid, f := range m.facts {
			if f.BankID != bank || f.Type != memory.FactObservation {
				continue
			}
			for _, ref := range f.EntityRefs {
				if ref == eid {
					factIDs = append(factIDs, fid)
					break
				}
			}
		}
		sort.Strings(factIDs)
		for _, fid := range factIDs {
			f := m.facts[fid]
			cost := approxTokens(f.Text)
			if tokenCap > 0 && cost > budget && len(out) > 0 {
				return out, nil
			}
			out = append(out, memory.EntityObservation{
				EntityID:      eid,
				CanonicalName: ent.CanonicalName,
				Text:          f.Text,
				MentionCount:  ent.MentionCount,
			})
			budget -= cost
		}
	}
	return out, nil
}

func passesTimeFilter(f memory.Fact, filter VectorFilter) bool {
	if !filter.HasTimeRange() {
		return true
	}
	if f.OccurredStart == nil && filter.RequireOccurred {
		return false
	}
	at := f.OccurredOrMentioned()
	return !at.Before(*filter.OccurredStart) && !at.After(*filter.OccurredEnd)
}

func factTypeSet(types []memory.FactType) map[memory.FactType]bool {
	set := make(map[memory.FactType]bool, len(types))
	if len(types) == 0 {
		for _, t := range memory.AllFactTypes() {
			set[t] = true
		}
		return set
	}
	for _, t := range types {
		set[t] = true
	}
	return set
}

func sortHits(hits []Hit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FactID < hits[j].FactID
	})
}

func approxTokens(s string) int {
	return (len(s) + 3) / 4
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
