package memory

import (
	"math"
	"testing"
	"time"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tsp(s string) *time.Time {
	t := ts(s)
	return &t
}

func validFact() Fact {
	return Fact{
		ID:          "f1",
		BankID:      "b1",
		Type:        FactWorld,
		Text:        "Alice works at Google",
		MentionedAt: ts("2024-01-01T00:00:00Z"),
	}
}

func TestFactValidate(t *testing.T) {
	if err := validFact().Validate(); err != nil {
		t.Fatalf("valid fact rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Fact)
	}{
		{"missing id", func(f *Fact) { f.ID = "" }},
		{"missing bank", func(f *Fact) { f.BankID = "" }},
		{"bad type", func(f *Fact) { f.Type = "rumor" }},
		{"empty text", func(f *Fact) { f.Text = "" }},
		{"occurred inverted", func(f *Fact) {
			f.OccurredStart = tsp("2024-05-01T00:00:00Z")
			f.OccurredEnd = tsp("2024-04-01T00:00:00Z")
		}},
		{"confidence out of range", func(f *Fact) {
			f.Type = FactOpinion
			c := 1.5
			f.Confidence = &c
		}},
		{"confidence NaN", func(f *Fact) {
			f.Type = FactOpinion
			c := math.NaN()
			f.Confidence = &c
		}},
		{"confidence on world fact", func(f *Fact) {
			c := 0.5
			f.Confidence = &c
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := validFact()
			tc.mutate(&f)
			if err := f.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestFactPointEvent(t *testing.T) {
	f := validFact()
	f.OccurredStart = tsp("2024-04-15T00:00:00Z")
	f.OccurredEnd = tsp("2024-04-15T00:00:00Z")
	if err := f.Validate(); err != nil {
		t.Fatalf("point event rejected: %v", err)
	}
	if !f.OccurredOrMentioned().Equal(*f.OccurredStart) {
		t.Fatalf("OccurredOrMentioned should prefer occurred_start")
	}
}

func TestOccurredOrMentionedFallback(t *testing.T) {
	f := validFact()
	if !f.OccurredOrMentioned().Equal(f.MentionedAt) {
		t.Fatalf("expected fallback to mentioned_at")
	}
}

func TestLinkValidate(t *testing.T) {
	ok := Link{SourceID: "a", TargetID: "b", Type: LinkEntity, Weight: 0.7}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid link rejected: %v", err)
	}
	bad := []Link{
		{SourceID: "", TargetID: "b", Type: LinkEntity, Weight: 0.5},
		{SourceID: "a", TargetID: "b", Type: "social", Weight: 0.5},
		{SourceID: "a", TargetID: "b", Type: LinkCausal, Weight: 0},
		{SourceID: "a", TargetID: "b", Type: LinkCausal, Weight: 1.2},
	}
	for i, l := range bad {
		if err := l.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
