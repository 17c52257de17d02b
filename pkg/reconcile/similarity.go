package reconcile

import (
	"strings"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

// Similarity weights. Names dominate because silence-separated chunks
// rarely share enough topical context to match on content alone.
const (
	nameWeight  = 0.5
	topicWeight = 0.25
	termWeight  = 0.25
)

// signatureSimilarity scores how likely two signatures from different
// chunks describe the same real speaker.
func signatureSimilarity(a, b pipeline.SpeakerSignature) float64 {
	return nameWeight*nameSimilarity(a.InferredName, b.InferredName) +
		topicWeight*jaccard(a.TopicIDs, b.TopicIDs) +
		termWeight*jaccard(a.TermKeys, b.TermKeys)
}

// nameSimilarity grades inferred speaker names: exact normalized match,
// substring containment ("John" vs "John Smith"), shared first token, or
// nothing.
func nameSimilarity(a, b string) float64 {
	na := normalizeName(a)
	nb := normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.8
	}
	firstA := firstToken(na)
	firstB := firstToken(nb)
	if firstA == firstB && len(firstA) > 2 {
		return 0.6
	}
	return 0
}

// jaccard computes set overlap. Two empty sets score 1.0: missing
// fingerprints are non-informative agreement, not a mismatch.
func jaccard(a, b []string) float64 {
	setA := toSet(a)
	setB := toSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}

	intersection := 0
	for k := range setA {
		if _, ok := setB[k]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func normalizeName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

func firstToken(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it != "" {
			set[it] = struct{}{}
		}
	}
	return set
}
