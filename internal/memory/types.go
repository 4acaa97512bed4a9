// Package memory defines the hindsight data model: immutable facts linked
// into a typed graph through shared entities, partitioned into banks.
//
// A bank is the isolation unit. Every read in the system is parameterized by
// a bank id and must never cross it. Facts are created by the ingestion
// pipeline and never mutated by retrieval; links are redundant inferences
// maintained by background jobs and are read-only here as well.
package memory

import (
	"fmt"
	"math"
	"time"
)

// FactType classifies a fact. The five variants form a tagged sum; only
// opinions carry the optional Confidence field.
type FactType string

const (
	// FactWorld is an objective claim about the world.
	FactWorld FactType = "world"
	// FactBank records an action the bank itself took.
	FactBank FactType = "bank"
	// FactOpinion is a belief held with a confidence in [0,1].
	FactOpinion FactType = "opinion"
	// FactObservation is a synthesized summary produced by background jobs.
	FactObservation FactType = "observation"
	// FactExperience is a recorded event.
	FactExperience FactType = "experience"
)

// AllFactTypes returns every fact type in stable order.
func AllFactTypes() []FactType {
	return []FactType{FactWorld, FactBank, FactOpinion, FactObservation, FactExperience}
}

// Valid reports whether t is one of the known fact types.
func (t FactType) Valid() bool {
	switch t {
	case FactWorld, FactBank, FactOpinion, FactObservation, FactExperience:
		return true
	}
	return false
}

// LinkType classifies a directed edge between two facts.
type LinkType string

const (
	LinkTemporal LinkType = "temporal"
	LinkSemantic LinkType = "semantic"
	LinkEntity   LinkType = "entity"
	LinkCausal   LinkType = "causal"
)

// AllLinkTypes returns every link type in stable order.
func AllLinkTypes() []LinkType {
	return []LinkType{LinkTemporal, LinkSemantic, LinkEntity, LinkCausal}
}

// Valid reports whether t is one of the known link types.
func (t LinkType) Valid() bool {
	switch t {
	case LinkTemporal, LinkSemantic, LinkEntity, LinkCausal:
		return true
	}
	return false
}

// Fact is a single memory unit. Immutable after creation.
type Fact struct {
	ID     string   `json:"id"`
	BankID string   `json:"bank_id"`
	Type   FactType `json:"fact_type"`

	Text    string `json:"text"`
	Context string `json:"context,omitempty"`

	// Embedding is the dense vector for the fact text. Dimension is uniform
	// within a bank; retrieval does not read or check the dimension and
	// compares query and fact vectors as given.
	Embedding []float32 `json:"-"`

	// OccurredStart/OccurredEnd bound when the described event happened.
	// Equal values describe a point event. Both may be absent.
	OccurredStart *time.Time `json:"occurred_start,omitempty"`
	OccurredEnd   *time.Time `json:"occurred_end,omitempty"`

	// MentionedAt is the ingestion timestamp.
	MentionedAt time.Time `json:"mentioned_at"`

	// Provenance, opaque to retrieval.
	DocumentID string `json:"document_id,omitempty"`
	ChunkID    string `json:"chunk_id,omitempty"`

	// EntityRefs lists the entities this fact mentions, by id.
	EntityRefs []string `json:"entity_refs,omitempty"`

	Tags     map[string]string `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// Confidence is set for opinions only, in [0,1].
	Confidence *float64 `json:"confidence,omitempty"`
}

// OccurredOrMentioned returns the fact's occurrence start, falling back to
// the ingestion timestamp when no occurrence is recorded.
func (f Fact) OccurredOrMentioned() time.Time {
	if f.OccurredStart != nil {
		return *f.OccurredStart
	}
	return f.MentionedAt
}

// Validate checks the per-fact invariants. The store rejects facts that fail
// validation rather than letting them reach retrieval.
func (f Fact) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("fact: missing id")
	}
	if f.BankID == "" {
		return fmt.Errorf("fact %s: missing bank_id", f.ID)
	}
	if !f.Type.Valid() {
		return fmt.Errorf("fact %s: unknown fact_type %q", f.ID, f.Type)
	}
	if f.Text == "" {
		return fmt.Errorf("fact %s: empty text", f.ID)
	}
	if f.OccurredStart != nil && f.OccurredEnd != nil && f.OccurredEnd.Before(*f.OccurredStart) {
		return fmt.Errorf("fact %s: occurred_end before occurred_start", f.ID)
	}
	if f.Confidence != nil {
		c := *f.Confidence
		if math.IsNaN(c) || math.IsInf(c, 0) || c < 0 || c > 1 {
			return fmt.Errorf("fact %s: confidence %v out of [0,1]", f.ID, c)
		}
		if f.Type != FactOpinion {
			return fmt.Errorf("fact %s: confidence set on non-opinion %q", f.ID, f.Type)
		}
	}
	return nil
}

// Entity is a canonical referent (person, place, thing, concept) shared
// across facts. Entities connect facts into the graph.
type Entity struct {
	ID            string    `json:"id"`
	BankID        string    `json:"bank_id"`
	CanonicalName string    `json:"canonical_name"`
	MentionCount  int       `json:"mention_count"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// Link is a directed, weighted edge between two facts in the same bank.
type Link struct {
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Type     LinkType `json:"link_type"`
	Weight   float64  `json:"weight"`
}

// Validate checks the link invariants.
func (l Link) Validate() error {
	if l.SourceID == "" || l.TargetID == "" {
		return fmt.Errorf("link: missing endpoint (%q -> %q)", l.SourceID, l.TargetID)
	}
	if !l.Type.Valid() {
		return fmt.Errorf("link %s->%s: unknown link_type %q", l.SourceID, l.TargetID, l.Type)
	}
	if math.IsNaN(l.Weight) || math.IsInf(l.Weight, 0) || l.Weight <= 0 || l.Weight > 1 {
		return fmt.Errorf("link %s->%s: weight %v out of (0,1]", l.SourceID, l.TargetID, l.Weight)
	}
	return nil
}

// EntityObservation is an optional sidecar payload: a synthesized summary
// attached to an entity, returned alongside recall results when requested.
type EntityObservation struct {
	EntityID      string `json:"entity_id"`
	CanonicalName string `json:"canonical_name"`
	Text          string `json:"text"`
	MentionCount  int    `json:"mention_count"`
}
