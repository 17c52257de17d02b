// Package reconcile clusters per-chunk speaker signatures into canonical
// cross-chunk speaker identities.
package reconcile

import (
	"fmt"
	"sort"

	"github.com/eternnoir/chunkscribe/pkg/logger"
	"github.com/eternnoir/chunkscribe/pkg/pipeline"
)

const (
	// HighMatchThreshold is the minimum pairwise score for two signatures
	// to be clustered together.
	HighMatchThreshold = 0.7
	// LowConfidenceThreshold is the minimum overall confidence for a
	// reconciliation result to be trusted by the merger.
	LowConfidenceThreshold = 0.6
)

// MatchEvidence records one accepted pairwise match inside a cluster.
type MatchEvidence struct {
	KeyA  string  `json:"key_a"`
	KeyB  string  `json:"key_b"`
	Score float64 `json:"score"`
}

// Cluster is one canonical speaker identity and the signatures behind it.
type Cluster struct {
	CanonicalID string          `json:"canonical_id"`
	DisplayName string          `json:"display_name"`
	MemberKeys  []string        `json:"member_keys"`
	Confidence  float64         `json:"confidence"`
	Evidence    []MatchEvidence `json:"evidence,omitempty"`
}

// Result maps every signature key ({chunkSpeakerId}_{chunkIndex}) to its
// canonical speaker ID. Computed fresh on every merge attempt; never
// persisted as authoritative until the merge commits.
type Result struct {
	Mapping           map[string]string `json:"mapping"`
	Clusters          []Cluster         `json:"clusters"`
	OverallConfidence float64           `json:"overall_confidence"`
}

// LowConfidenceError carries the partial reconciliation result so callers
// can inspect the offending clusters before deciding to abort or proceed
// manually.
type LowConfidenceError struct {
	Partial *Result
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("speaker reconciliation confidence %.2f below threshold %.2f (%d clusters)",
		e.Partial.OverallConfidence, LowConfidenceThreshold, len(e.Partial.Clusters))
}

// scoredPair is one cross-chunk signature pair at or above the match
// threshold.
type scoredPair struct {
	a, b  int
	score float64
}

// clusterState accumulates members and a running average of accepted pair
// scores during greedy clustering.
type clusterState struct {
	members  []int
	chunks   map[int]struct{}
	sum      float64
	pairs    int
	evidence []MatchEvidence
}

func (c *clusterState) confidence() float64 {
	if c.pairs == 0 {
		return 1.0
	}
	return c.sum / float64(c.pairs)
}

// Reconciler clusters speaker signatures across chunks.
type Reconciler struct{}

// NewReconciler creates a reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Reconcile computes canonical speaker identities for all signatures of a
// conversation. Empty input is a vacuous success with confidence 1.0. A
// result whose overall confidence falls below LowConfidenceThreshold is
// returned inside a *LowConfidenceError.
func (r *Reconciler) Reconcile(signatures []pipeline.SpeakerSignature) (*Result, error) {
	log := logger.WithComponent("reconciler")

	if len(signatures) == 0 {
		return &Result{
			Mapping:           map[string]string{},
			OverallConfidence: 1.0,
		}, nil
	}

	pairs := r.scorePairs(signatures)
	clusters := r.cluster(signatures, pairs)
	result := r.assign(signatures, clusters)

	log.Debug().
		Int("signatures", len(signatures)).
		Int("scored_pairs", len(pairs)).
		Int("clusters", len(result.Clusters)).
		Float64("overall_confidence", result.OverallConfidence).
		Msg("Speaker reconciliation computed")

	if result.OverallConfidence < LowConfidenceThreshold {
		log.Warn().
			Float64("overall_confidence", result.OverallConfidence).
			Msg("Speaker reconciliation confidence below threshold")
		return nil, &LowConfidenceError{Partial: result}
	}

	return result, nil
}

// scorePairs scores every cross-chunk signature pair. Same-chunk pairs are
// never compared; diarization already knows they are distinct speakers.
// Sorting is total (score, then indices) so results are deterministic.
func (r *Reconciler) scorePairs(signatures []pipeline.SpeakerSignature) []scoredPair {
	var pairs []scoredPair
	for i := 0; i < len(signatures); i++ {
		for j := i + 1; j < len(signatures); j++ {
			if signatures[i].ChunkIndex == signatures[j].ChunkIndex {
				continue
			}
			score := signatureSimilarity(signatures[i], signatures[j])
			if score >= HighMatchThreshold {
				pairs = append(pairs, scoredPair{a: i, b: j, score: score})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		if pairs[i].a != pairs[j].a {
			return pairs[i].a < pairs[j].a
		}
		return pairs[i].b < pairs[j].b
	})
	return pairs
}

// cluster greedily groups signatures, strongest pairs first. Two clusters
// are never merged even when a cross-cluster pair scores high; this is a
// deliberate scope limit, not union-find waiting to happen.
func (r *Reconciler) cluster(signatures []pipeline.SpeakerSignature, pairs []scoredPair) []*clusterState {
	var clusters []*clusterState
	memberOf := make(map[int]int, len(signatures))

	for _, p := range pairs {
		ca, okA := memberOf[p.a]
		cb, okB := memberOf[p.b]
		ev := MatchEvidence{
			KeyA:  signatures[p.a].Key(),
			KeyB:  signatures[p.b].Key(),
			Score: p.score,
		}

		switch {
		case !okA && !okB:
			c := &clusterState{chunks: map[int]struct{}{}}
			c.add(p.a, signatures[p.a].ChunkIndex)
			c.add(p.b, signatures[p.b].ChunkIndex)
			c.sum = p.score
			c.pairs = 1
			c.evidence = append(c.evidence, ev)
			memberOf[p.a] = len(clusters)
			memberOf[p.b] = len(clusters)
			clusters = append(clusters, c)
		case okA && !okB:
			c := clusters[ca]
			if c.hasChunk(signatures[p.b].ChunkIndex) {
				continue
			}
			c.join(signatures, p.b, ev)
			memberOf[p.b] = ca
		case !okA && okB:
			c := clusters[cb]
			if c.hasChunk(signatures[p.a].ChunkIndex) {
				continue
			}
			c.join(signatures, p.a, ev)
			memberOf[p.a] = cb
		default:
			// Both already clustered. Same cluster: nothing to do.
			// Different clusters: skip rather than merge.
			continue
		}
	}

	// Untouched signatures become singleton clusters, confidence 1.0.
	for i := range signatures {
		if _, ok := memberOf[i]; !ok {
			c := &clusterState{chunks: map[int]struct{}{}}
			c.add(i, signatures[i].ChunkIndex)
			clusters = append(clusters, c)
		}
	}

	return clusters
}

// assign numbers clusters in discovery order and builds the final mapping.
// Overall confidence is the minimum cluster confidence so one weak cluster
// is never masked by many strong ones.
func (r *Reconciler) assign(signatures []pipeline.SpeakerSignature, clusters []*clusterState) *Result {
	result := &Result{
		Mapping:           make(map[string]string, len(signatures)),
		Clusters:          make([]Cluster, 0, len(clusters)),
		OverallConfidence: 1.0,
	}

	for idx, c := range clusters {
		canonical := fmt.Sprintf("speaker_canonical_%d", idx)
		cluster := Cluster{
			CanonicalID: canonical,
			Confidence:  c.confidence(),
			Evidence:    c.evidence,
			MemberKeys:  make([]string, 0, len(c.members)),
		}

		for _, m := range c.members {
			sig := signatures[m]
			cluster.MemberKeys = append(cluster.MemberKeys, sig.Key())
			result.Mapping[sig.Key()] = canonical
			if len(sig.InferredName) > len(cluster.DisplayName) {
				cluster.DisplayName = sig.InferredName
			}
		}
		if cluster.DisplayName == "" {
			cluster.DisplayName = signatures[c.members[0]].SpeakerID
		}

		if cluster.Confidence < result.OverallConfidence {
			result.OverallConfidence = cluster.Confidence
		}
		result.Clusters = append(result.Clusters, cluster)
	}

	return result
}

func (c *clusterState) add(member, chunkIndex int) {
	c.members = append(c.members, member)
	c.chunks[chunkIndex] = struct{}{}
}

func (c *clusterState) hasChunk(chunkIndex int) bool {
	_, ok := c.chunks[chunkIndex]
	return ok
}

// join adds a new member and folds its similarity to every existing
// member into the running average, so the cluster confidence reflects all
// intra-cluster pairs, not just the ones that cleared the threshold.
func (c *clusterState) join(signatures []pipeline.SpeakerSignature, member int, ev MatchEvidence) {
	for _, m := range c.members {
		c.sum += signatureSimilarity(signatures[m], signatures[member])
		c.pairs++
	}
	c.evidence = append(c.evidence, ev)
	c.add(member, signatures[member].ChunkIndex)
}
