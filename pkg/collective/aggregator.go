package collective

import (
	"encoding/json"
	"sort"
)

// Insight is a single contribution fed into KnowledgeAggregator.
type Insight struct {
	ContributorID string
	Data          interface{}
	Confidence    float64
}

// AggregatedInsight is the outcome of aggregateInsights.
type AggregatedInsight struct {
	Merged    map[string]interface{} // set when every item.Data was an object
	Voted     interface{}            // set when a confidence-weighted vote was used
	UsedVote  bool
}

// AggregateInsights merges items per spec §4.J: if every item's Data is
// an object, shallow-merge them (later items win on key conflicts);
// otherwise perform a confidence-weighted majority vote over the
// stringified values.
func AggregateInsights(items []Insight) AggregatedInsight {
	if len(items) == 0 {
		return AggregatedInsight{}
	}

	allObjects := true
	for _, it := range items {
		if _, ok := it.Data.(map[string]interface{}); !ok {
			allObjects = false
			break
		}
	}

	if allObjects {
		merged := make(map[string]interface{})
		for _, it := range items {
			for k, v := range it.Data.(map[string]interface{}) {
				merged[k] = v
			}
		}
		return AggregatedInsight{Merged: merged}
	}

	scores := make(map[string]float64)
	values := make(map[string]interface{})
	for _, it := range items {
		key := stringify(it.Data)
		scores[key] += it.Confidence
		values[key] = it.Data
	}
	var winner string
	best := -1.0
	for k, s := range scores {
		if s > best {
			best = s
			winner = k
		}
	}
	return AggregatedInsight{Voted: values[winner], UsedVote: true}
}

func stringify(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// CombinedResult is the outcome of CombineResults.
type CombinedResult struct {
	Final       interface{}
	Agreements  int
	Conflicts   int
}

// CombineResults groups results by stringified value, summing
// confidence per group, and returns the highest-scoring group as
// Final. Agreements is that group's size; Conflicts is everything else.
func CombineResults(results []Insight) CombinedResult {
	if len(results) == 0 {
		return CombinedResult{}
	}

	type group struct {
		value      interface{}
		score      float64
		size       int
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range results {
		key := stringify(r.Data)
		g, ok := groups[key]
		if !ok {
			g = &group{value: r.Data}
			groups[key] = g
			order = append(order, key)
		}
		g.score += r.Confidence
		g.size++
	}

	sort.Slice(order, func(i, j int) bool { return groups[order[i]].score > groups[order[j]].score })
	winner := groups[order[0]]
	total := len(results)
	return CombinedResult{Final: winner.value, Agreements: winner.size, Conflicts: total - winner.size}
}
