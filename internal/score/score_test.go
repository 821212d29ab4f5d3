package score

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompare(t *testing.T) {
	res := Compare("Ratatouille",
		[]string{"Onion", "Garlic", "Ginger"},
		[]string{"onion", "garlic"})

	assert.Equal(t, "Ratatouille", res.Name)
	assert.Equal(t, 3, res.CandidateCount)
	assert.Equal(t, 2, res.ReferenceCount)
	assert.Equal(t, []string{"garlic", "onion"}, res.Matched)
	assert.Equal(t, []string{"ginger"}, res.Extra)
	assert.Empty(t, res.Missing)
	assert.InDelta(t, 2.0/3.0, res.Precision, 1e-9)
	assert.InDelta(t, 1.0, res.Recall, 1e-9)
	assert.InDelta(t, 0.8, res.F1, 1e-9)
}

func TestCompareNormalizes(t *testing.T) {
	res := Compare("Velouté",
		[]string{"  Crème fraîche! ", "sel"},
		[]string{"creme fraiche", "Poivre"})

	assert.Equal(t, []string{"creme fraiche"}, res.Matched)
	assert.Equal(t, []string{"poivre"}, res.Missing)
	assert.Equal(t, []string{"sel"}, res.Extra)
}

func TestCompareEmptyCandidate(t *testing.T) {
	res := Compare("Gratin", nil, []string{"pommes de terre"})

	assert.Zero(t, res.Precision)
	assert.Zero(t, res.Recall)
	assert.Zero(t, res.F1)
	assert.Equal(t, []string{"pommes de terre"}, res.Missing)
	assert.Empty(t, res.Matched)
	assert.Empty(t, res.Extra)
}

func TestCompareEmptyReference(t *testing.T) {
	res := Compare("Gratin", []string{"sel"}, nil)

	assert.Zero(t, res.Precision)
	assert.Zero(t, res.Recall)
	assert.Zero(t, res.F1)
	assert.Equal(t, []string{"sel"}, res.Extra)
}

func TestAggregate(t *testing.T) {
	summary := Aggregate([]ComparisonResult{
		{Precision: 1.0, Recall: 0.5, F1: 2.0 / 3.0},
		{Precision: 0.5, Recall: 1.0, F1: 2.0 / 3.0},
	})

	assert.Equal(t, 2, summary.Records)
	assert.InDelta(t, 0.75, summary.AvgPrecision, 1e-9)
	assert.InDelta(t, 0.75, summary.AvgRecall, 1e-9)
	assert.InDelta(t, 2.0/3.0, summary.AvgF1, 1e-9)

	empty := Aggregate(nil)
	assert.Zero(t, empty.Records)
	assert.Zero(t, empty.AvgF1)
}

func TestLoadReference(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reference.json")
	data := `{"records": [
		{"name": "Ratatouille", "items": ["Tomates", "Aubergines"]},
		{"name": "Gratin", "items": ["Pommes de terre"]}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	ref, err := LoadReference(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tomates", "Aubergines"}, ref["Ratatouille"])
	assert.Equal(t, []string{"Pommes de terre"}, ref["Gratin"])

	_, err = LoadReference(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
