package pipeline

import (
	"reflect"
	"strings"
	"testing"
)

func TestSeedContext(t *testing.T) {
	p := NewContextPropagator(0)

	seed := p.Seed()
	if seed.EmittedBy != -1 {
		t.Errorf("Seed() EmittedBy = %d, want -1", seed.EmittedBy)
	}
	if len(seed.KnownSpeakers) != 0 || seed.Summary != "" || seed.SegmentCount != 0 {
		t.Errorf("Seed() not empty: %+v", seed)
	}
}

func TestNextAccumulatesEntities(t *testing.T) {
	p := NewContextPropagator(0)

	prev := ChunkContext{
		EmittedBy:     0,
		KnownSpeakers: map[string]string{"spk_1": "Anna"},
		KnownTermIDs:  []string{"term_b"},
		KnownTopicIDs: []string{"topic_1"},
		SegmentCount:  4,
	}
	artifact := &ChunkArtifact{
		ChunkIndex: 1,
		Descriptor: ChunkDescriptor{ChunkIndex: 1, StartMs: 900000, OverlapBeforeMs: 30000},
		Segments: []Segment{
			{ID: "seg_1", StartMs: 0, EndMs: 5000},
			{ID: "seg_2", StartMs: 5000, EndMs: 12000},
		},
		Speakers: []Speaker{{ID: "spk_2", DisplayName: "Ben"}},
		Terms:    []Term{{ID: "term_a", Key: "kubernetes"}},
		Topics:   []Topic{{ID: "topic_2", Label: "rollout"}},
		People:   []Person{{ID: "person_1", Name: "Carla"}},
	}

	next := p.Next(prev, artifact, "discussed rollout")

	if next.EmittedBy != 1 {
		t.Errorf("EmittedBy = %d, want 1", next.EmittedBy)
	}
	wantSpeakers := map[string]string{"spk_1": "Anna", "spk_2": "Ben"}
	if !reflect.DeepEqual(next.KnownSpeakers, wantSpeakers) {
		t.Errorf("KnownSpeakers = %v, want %v", next.KnownSpeakers, wantSpeakers)
	}
	if want := []string{"term_a", "term_b"}; !reflect.DeepEqual(next.KnownTermIDs, want) {
		t.Errorf("KnownTermIDs = %v, want %v", next.KnownTermIDs, want)
	}
	if want := []string{"topic_1", "topic_2"}; !reflect.DeepEqual(next.KnownTopicIDs, want) {
		t.Errorf("KnownTopicIDs = %v, want %v", next.KnownTopicIDs, want)
	}
	if want := []string{"person_1"}; !reflect.DeepEqual(next.KnownPersonIDs, want) {
		t.Errorf("KnownPersonIDs = %v, want %v", next.KnownPersonIDs, want)
	}
	if next.SegmentCount != 6 {
		t.Errorf("SegmentCount = %d, want 6", next.SegmentCount)
	}

	// Segment timestamps are chunk-local; the last timestamp is reported on
	// the original timeline, offset by the extraction start.
	if want := int64(870000 + 12000); next.LastTimestampMs != want {
		t.Errorf("LastTimestampMs = %d, want %d", next.LastTimestampMs, want)
	}
}

func TestNextKnownNamesWinOverBlanks(t *testing.T) {
	p := NewContextPropagator(0)

	prev := ChunkContext{KnownSpeakers: map[string]string{"spk_1": "Anna"}}
	artifact := &ChunkArtifact{
		ChunkIndex: 1,
		Speakers:   []Speaker{{ID: "spk_1"}, {ID: "spk_2", DisplayName: "Ben"}},
	}

	next := p.Next(prev, artifact, "")
	if next.KnownSpeakers["spk_1"] != "Anna" {
		t.Errorf("blank name overwrote known name: %q", next.KnownSpeakers["spk_1"])
	}

	// A non-empty name from the latest chunk does replace the old one.
	artifact.Speakers[0].DisplayName = "Annabel"
	next = p.Next(prev, artifact, "")
	if next.KnownSpeakers["spk_1"] != "Annabel" {
		t.Errorf("latest name lost: %q", next.KnownSpeakers["spk_1"])
	}
}

func TestSanitizeSummary(t *testing.T) {
	p := NewContextPropagator(10)

	tests := []struct {
		name    string
		summary string
		want    string
	}{
		{name: "plain", summary: "hello", want: "hello"},
		{name: "collapses whitespace", summary: "a\t b\n\nc", want: "a b c"},
		{name: "control characters collapse to spaces", summary: "a\x00b\x1bc", want: "a b c"},
		{name: "trims edges", summary: "  padded  ", want: "padded"},
		{name: "truncates by runes", summary: strings.Repeat("ä", 12), want: strings.Repeat("ä", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Next(ChunkContext{}, &ChunkArtifact{}, tt.summary).Summary
			if got != tt.want {
				t.Errorf("summary = %q, want %q", got, tt.want)
			}
		})
	}
}
