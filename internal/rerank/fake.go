package rerank

import (
	"context"
	"sort"
	"strings"
)

// Fake is an in-memory Client for tests: it scores each document by
// substring occurrence count of the query, breaking ties by original index,
// and returns at most topN results.
type Fake struct {
	Err error
}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Rerank(_ context.Context, query string, docs []Document, topN int) ([]Result, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	if topN > len(docs) || topN <= 0 {
		topN = len(docs)
	}

	results := make([]Result, len(docs))
	for i, d := range docs {
		results[i] = Result{Index: d.Index, Score: float64(strings.Count(strings.ToLower(d.Text), strings.ToLower(query))) + 1}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	return results[:topN], nil
}
