package merge

import (
	"sort"

	"github.com/eternnoir/chunkscribe/pkg/pipeline"
	"github.com/eternnoir/chunkscribe/pkg/reconcile"
)

// mergeSpeakers builds the canonical speaker table. In parallel mode the
// reconciliation clusters are the table; in sequential mode speakers are a
// first-seen union by ID, preferring entries with a non-empty display name
// on conflict.
func mergeSpeakers(artifacts []*pipeline.ChunkArtifact, recon *reconcile.Result, segments []pipeline.Segment) []pipeline.Speaker {
	counts := make(map[string]int, len(segments))
	for _, seg := range segments {
		counts[seg.SpeakerID]++
	}

	if recon != nil {
		speakers := make([]pipeline.Speaker, 0, len(recon.Clusters))
		for _, cluster := range recon.Clusters {
			speakers = append(speakers, pipeline.Speaker{
				ID:           cluster.CanonicalID,
				DisplayName:  cluster.DisplayName,
				SegmentCount: counts[cluster.CanonicalID],
			})
		}
		return speakers
	}

	var speakers []pipeline.Speaker
	index := make(map[string]int)
	for _, artifact := range artifacts {
		for _, sp := range artifact.Speakers {
			if i, ok := index[sp.ID]; ok {
				if speakers[i].DisplayName == "" && sp.DisplayName != "" {
					speakers[i].DisplayName = sp.DisplayName
				}
				continue
			}
			index[sp.ID] = len(speakers)
			speakers = append(speakers, pipeline.Speaker{
				ID:          sp.ID,
				DisplayName: sp.DisplayName,
			})
		}
	}
	for i := range speakers {
		speakers[i].SegmentCount = counts[speakers[i].ID]
	}
	return speakers
}

// mergeTerms dedupes terms by stable ID, first occurrence wins.
func mergeTerms(artifacts []*pipeline.ChunkArtifact) []pipeline.Term {
	var terms []pipeline.Term
	seen := make(map[string]struct{})
	for _, artifact := range artifacts {
		for _, term := range artifact.Terms {
			if _, ok := seen[term.ID]; ok {
				continue
			}
			seen[term.ID] = struct{}{}
			terms = append(terms, term)
		}
	}
	return terms
}

// mergeTopics dedupes topics by ID and orders them by start index.
func mergeTopics(artifacts []*pipeline.ChunkArtifact) []pipeline.Topic {
	var topics []pipeline.Topic
	seen := make(map[string]struct{})
	for _, artifact := range artifacts {
		for _, topic := range artifact.Topics {
			if _, ok := seen[topic.ID]; ok {
				continue
			}
			seen[topic.ID] = struct{}{}
			topics = append(topics, topic)
		}
	}
	sort.SliceStable(topics, func(i, j int) bool {
		return topics[i].StartIndex < topics[j].StartIndex
	})
	return topics
}

// mergePeople dedupes people by stable ID, first occurrence wins.
func mergePeople(artifacts []*pipeline.ChunkArtifact) []pipeline.Person {
	var people []pipeline.Person
	seen := make(map[string]struct{})
	for _, artifact := range artifacts {
		for _, person := range artifact.People {
			if _, ok := seen[person.ID]; ok {
				continue
			}
			seen[person.ID] = struct{}{}
			people = append(people, person)
		}
	}
	return people
}
