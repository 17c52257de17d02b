package pipeline

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxSummaryLen bounds the carry-forward summary in runes.
const DefaultMaxSummaryLen = 2000

// ContextPropagator builds the carry-forward context one chunk emits for
// the next. Used only in sequential mode; parallel chunks all start from
// the seed context.
type ContextPropagator struct {
	maxSummaryLen int
}

// NewContextPropagator creates a propagator with the given summary bound.
// A non-positive bound falls back to DefaultMaxSummaryLen.
func NewContextPropagator(maxSummaryLen int) *ContextPropagator {
	if maxSummaryLen <= 0 {
		maxSummaryLen = DefaultMaxSummaryLen
	}
	return &ContextPropagator{maxSummaryLen: maxSummaryLen}
}

// Seed returns the context consumed by chunk 0.
func (p *ContextPropagator) Seed() ChunkContext {
	return ChunkContext{EmittedBy: -1}
}

// Next builds the context emitted by the chunk that produced artifact,
// given the context that chunk consumed. summary is the running summary
// produced by the analysis collaborator for this chunk.
func (p *ContextPropagator) Next(prev ChunkContext, artifact *ChunkArtifact, summary string) ChunkContext {
	next := ChunkContext{
		EmittedBy:       artifact.ChunkIndex,
		KnownSpeakers:   make(map[string]string, len(prev.KnownSpeakers)+len(artifact.Speakers)),
		Summary:         p.sanitizeSummary(summary),
		SegmentCount:    prev.SegmentCount + len(artifact.Segments),
		LastTimestampMs: prev.LastTimestampMs,
	}

	for id, name := range prev.KnownSpeakers {
		next.KnownSpeakers[id] = name
	}
	for _, sp := range artifact.Speakers {
		// Known names win over blanks; otherwise the latest chunk wins.
		if sp.DisplayName == "" {
			if _, ok := next.KnownSpeakers[sp.ID]; ok {
				continue
			}
		}
		next.KnownSpeakers[sp.ID] = sp.DisplayName
	}

	next.KnownTermIDs = unionIDs(prev.KnownTermIDs, termIDs(artifact.Terms))
	next.KnownTopicIDs = unionIDs(prev.KnownTopicIDs, topicIDs(artifact.Topics))
	next.KnownPersonIDs = unionIDs(prev.KnownPersonIDs, personIDs(artifact.People))

	for _, seg := range artifact.Segments {
		end := seg.EndMs + artifact.Descriptor.ExtractStartMs()
		if end > next.LastTimestampMs {
			next.LastTimestampMs = end
		}
	}

	return next
}

// sanitizeSummary strips control characters, collapses whitespace and
// truncates to the configured rune bound.
func (p *ContextPropagator) sanitizeSummary(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	clean := strings.TrimSpace(b.String())
	runes := []rune(clean)
	if len(runes) > p.maxSummaryLen {
		clean = string(runes[:p.maxSummaryLen])
	}
	return clean
}

func unionIDs(existing, added []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, id := range existing {
		if _, ok := seen[id]; !ok && id != "" {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, id := range added {
		if _, ok := seen[id]; !ok && id != "" {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

func termIDs(terms []Term) []string {
	ids := make([]string, 0, len(terms))
	for _, t := range terms {
		ids = append(ids, t.ID)
	}
	return ids
}

func topicIDs(topics []Topic) []string {
	ids := make([]string, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, t.ID)
	}
	return ids
}

func personIDs(people []Person) []string {
	ids := make([]string, 0, len(people))
	for _, p := range people {
		ids = append(ids, p.ID)
	}
	return ids
}
