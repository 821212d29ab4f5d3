// Package score compares extracted item sets against a reference set
// and reports precision, recall and F1.
package score

import (
	"sort"

	"github.com/polzovatel/table-vision-agent/internal/match"
)

// ComparisonResult holds the set-based metrics for one record. The
// three item slices are normalized and sorted, for diagnostics.
type ComparisonResult struct {
	Name           string   `json:"name"`
	CandidateCount int      `json:"candidate_count"`
	ReferenceCount int      `json:"reference_count"`
	Matched        []string `json:"matched"`
	Missing        []string `json:"missing"`
	Extra          []string `json:"extra"`
	Precision      float64  `json:"precision"`
	Recall         float64  `json:"recall"`
	F1             float64  `json:"f1"`
}

// Summary is the arithmetic mean over all compared records.
type Summary struct {
	Records      int     `json:"records"`
	AvgPrecision float64 `json:"avg_precision"`
	AvgRecall    float64 `json:"avg_recall"`
	AvgF1        float64 `json:"avg_f1"`
}

// Compare scores candidate items against reference items. Matching is
// exact after normalization, not fuzzy, so scores stay reproducible;
// the fuzzy matcher is reserved for verification.
func Compare(name string, candidate, reference []string) ComparisonResult {
	cand := normalizeSet(candidate)
	ref := normalizeSet(reference)

	res := ComparisonResult{
		Name:           name,
		CandidateCount: len(cand),
		ReferenceCount: len(ref),
		Matched:        []string{},
		Missing:        []string{},
		Extra:          []string{},
	}
	for item := range cand {
		if _, ok := ref[item]; ok {
			res.Matched = append(res.Matched, item)
		} else {
			res.Extra = append(res.Extra, item)
		}
	}
	for item := range ref {
		if _, ok := cand[item]; !ok {
			res.Missing = append(res.Missing, item)
		}
	}
	sort.Strings(res.Matched)
	sort.Strings(res.Missing)
	sort.Strings(res.Extra)

	if len(cand) > 0 {
		res.Precision = float64(len(res.Matched)) / float64(len(cand))
	}
	if len(ref) > 0 {
		res.Recall = float64(len(res.Matched)) / float64(len(ref))
	}
	if res.Precision+res.Recall > 0 {
		res.F1 = 2 * res.Precision * res.Recall / (res.Precision + res.Recall)
	}
	return res
}

// Aggregate averages the metrics across all compared records. Records
// with zero candidate or reference items still contribute their
// (possibly zero) scores to the mean.
func Aggregate(results []ComparisonResult) Summary {
	s := Summary{Records: len(results)}
	if len(results) == 0 {
		return s
	}
	for _, r := range results {
		s.AvgPrecision += r.Precision
		s.AvgRecall += r.Recall
		s.AvgF1 += r.F1
	}
	n := float64(len(results))
	s.AvgPrecision /= n
	s.AvgRecall /= n
	s.AvgF1 /= n
	return s
}

func normalizeSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if n := match.Normalize(item); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
