package extract

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// visionStub classifies each prompt by its distinctive marker and
// answers from a per-kind handler, with sensible success defaults.
type visionStub struct {
	calls   map[string]int
	handler map[string]func(call int, prompt string) string
}

func newVisionStub() *visionStub {
	return &visionStub{
		calls:   make(map[string]int),
		handler: make(map[string]func(int, string) string),
	}
}

func (v *visionStub) on(kind string, fn func(call int, prompt string) string) {
	v.handler[kind] = fn
}

func (v *visionStub) Ask(_ context.Context, _ []byte, prompt string) (string, error) {
	kind := classifyPrompt(prompt)
	v.calls[kind]++
	if fn, ok := v.handler[kind]; ok {
		return fn(v.calls[kind], prompt), nil
	}
	switch kind {
	case "scan":
		return `["Ratatouille", "Gratin Dauphinois"]`, nil
	case "locate":
		return "COORDINATES: (480, 220)\nBOUNDS: (100, 200, 400, 40)", nil
	case "control":
		return "COORDINATES: (520, 220)", nil
	case "nav":
		return "NO", nil
	case "verify":
		return "RECORD_VISIBLE: YES\nRECORD_TITLE: " + quotedName(prompt) + "\nVIEW_TYPE: PANEL", nil
	case "extract":
		return `{"items": ["Tomates", "Aubergines", "Courgettes"]}`, nil
	}
	return "", nil
}

func classifyPrompt(prompt string) string {
	switch {
	case strings.Contains(prompt, "record names"):
		return "scan"
	case strings.Contains(prompt, "hovering over the row"):
		return "control"
	case strings.Contains(prompt, "Find the record named"):
		return "locate"
	case strings.Contains(prompt, "FULL PAGE"):
		return "nav"
	case strings.Contains(prompt, "RECORD_VISIBLE"):
		return "verify"
	case strings.Contains(prompt, `"items"`):
		return "extract"
	}
	return "unknown"
}

var quotedRe = regexp.MustCompile(`"([^"]+)"`)

func quotedName(prompt string) string {
	if m := quotedRe.FindStringSubmatch(prompt); m != nil {
		return m[1]
	}
	return ""
}

type inputStub struct {
	clicks   []Point
	moves    []Point
	keys     []string
	clickErr func(call int) error
}

func (in *inputStub) Click(_ context.Context, p Point) error {
	in.clicks = append(in.clicks, p)
	if in.clickErr != nil {
		return in.clickErr(len(in.clicks))
	}
	return nil
}

func (in *inputStub) Move(_ context.Context, p Point) error {
	in.moves = append(in.moves, p)
	return nil
}

func (in *inputStub) SendKeys(_ context.Context, combo string) error {
	in.keys = append(in.keys, combo)
	return nil
}

func (in *inputStub) countKey(combo string) int {
	n := 0
	for _, k := range in.keys {
		if k == combo {
			n++
		}
	}
	return n
}

type captureStub struct{ calls int }

func (c *captureStub) Capture(context.Context) ([]byte, error) {
	c.calls++
	return []byte("png"), nil
}

func newTestOrchestrator(cfg Config, v Vision, in Input, cap Capture) *Orchestrator {
	o := NewOrchestrator(cfg, v, in, cap, zerolog.Nop())
	o.sleep = func(time.Duration) {}
	return o
}

func TestExtractRecordFreshDetection(t *testing.T) {
	vision := newVisionStub()
	input := &inputStub{}
	o := newTestOrchestrator(Config{}, vision, input, &captureStub{})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.True(t, res.Success)
	assert.True(t, res.Verified)
	assert.Equal(t, []string{"Tomates", "Aubergines", "Courgettes"}, res.Items)
	assert.Empty(t, res.Error)

	// Hover the row, then click the revealed control.
	require.Len(t, input.moves, 1)
	assert.Equal(t, Point{X: 480, Y: 220}, input.moves[0])
	require.Len(t, input.clicks, 1)
	assert.Equal(t, Point{X: 520, Y: 220}, input.clicks[0])

	// Close ran exactly once: dismiss key, then defensive back.
	assert.Equal(t, 1, input.countKey("Escape"))
	assert.Equal(t, 1, input.countKey("Meta+BracketLeft"))

	entry := o.Cache().Get("Ratatouille")
	require.NotNil(t, entry, "successful detection seeds the cache")
	assert.Equal(t, Point{X: 520, Y: 220}, entry.Click)
	assert.Equal(t, Region{X: 100, Y: 200, W: 400, H: 40}, entry.Region)
}

func TestExtractRecordCachedSecondVisit(t *testing.T) {
	vision := newVisionStub()
	input := &inputStub{}
	o := newTestOrchestrator(Config{}, vision, input, &captureStub{})

	first := o.ExtractRecord(context.Background(), "Ratatouille")
	require.True(t, first.Success)
	locatesAfterFirst := vision.calls["locate"]
	controlsAfterFirst := vision.calls["control"]

	second := o.ExtractRecord(context.Background(), "Ratatouille")
	require.True(t, second.Success)

	assert.Equal(t, locatesAfterFirst, vision.calls["locate"], "cached visit skips row detection")
	assert.Equal(t, controlsAfterFirst, vision.calls["control"], "cached visit skips control detection")
	assert.Len(t, input.clicks, 2)
	assert.Equal(t, input.clicks[0], input.clicks[1], "cached click reuses the stored point")
	assert.Equal(t, 2, o.Cache().Get("Ratatouille").Successes())
}

func TestExtractRecordRetriesAfterLocateFailures(t *testing.T) {
	vision := newVisionStub()
	vision.on("locate", func(call int, _ string) string {
		if call <= 2 {
			return "NOT_FOUND"
		}
		return "COORDINATES: (480, 220)\nBOUNDS: (100, 200, 400, 40)"
	})
	input := &inputStub{}
	o := newTestOrchestrator(Config{MaxAttempts: 3}, vision, input, &captureStub{})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.True(t, res.Success)
	assert.Equal(t, 3, vision.calls["locate"])
	// Failed attempts never clicked anything, so the close sequence
	// ran only for the attempt that actually opened the view.
	assert.Equal(t, 1, input.countKey("Meta+BracketLeft"))
	require.Len(t, input.clicks, 1)
}

func TestExtractRecordCorrectsFullPageNavigation(t *testing.T) {
	vision := newVisionStub()
	vision.on("nav", func(call int, _ string) string {
		if call == 1 {
			return "YES — the record fills the page"
		}
		return "NO"
	})
	input := &inputStub{}
	o := newTestOrchestrator(Config{}, vision, input, &captureStub{})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.True(t, res.Success)
	assert.Equal(t, 1, input.countKey("Meta+w"), "unintended full page closed once")
	assert.Len(t, input.clicks, 2, "open click re-issued after closing the page")
	assert.Equal(t, 2, vision.calls["nav"])
}

func TestExtractRecordFullPagePersistsFails(t *testing.T) {
	vision := newVisionStub()
	vision.on("nav", func(int, string) string { return "YES" })
	input := &inputStub{}
	o := newTestOrchestrator(Config{MaxAttempts: 1}, vision, input, &captureStub{})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.False(t, res.Success)
	assert.Empty(t, res.Items)
	assert.Contains(t, res.Error, "full page")
	// The click went out, so the attempt still cleaned up after itself.
	assert.Equal(t, 1, input.countKey("Meta+BracketLeft"))
}

func TestExtractRecordExhaustsAttemptsOnParseFailure(t *testing.T) {
	vision := newVisionStub()
	vision.on("extract", func(int, string) string { return "I see a nice list of things." })
	input := &inputStub{}
	o := newTestOrchestrator(Config{MaxAttempts: 2}, vision, input, &captureStub{})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.False(t, res.Success)
	assert.NotNil(t, res.Items)
	assert.Empty(t, res.Items)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, 2, vision.calls["extract"])
	// Both attempts opened the view, both closed it.
	assert.Equal(t, 2, input.countKey("Meta+BracketLeft"))
}

func TestExtractRecordTitleMismatchExtractsAnyway(t *testing.T) {
	vision := newVisionStub()
	vision.on("verify", func(int, string) string {
		return "RECORD_VISIBLE: YES\nRECORD_TITLE: Boeuf Bourguignon\nVIEW_TYPE: PANEL"
	})
	o := newTestOrchestrator(Config{}, vision, &inputStub{}, &captureStub{})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.True(t, res.Success, "mismatch is a warning, not a failure")
	assert.False(t, res.Verified)
	assert.NotEmpty(t, res.Items)
}

func TestExtractRecordStaleCachedClickFallsBack(t *testing.T) {
	vision := newVisionStub()
	input := &inputStub{}
	input.clickErr = func(call int) error {
		if call == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}
	o := newTestOrchestrator(Config{}, vision, input, &captureStub{})
	o.Cache().Set("Ratatouille", Region{}, Point{X: 9, Y: 9})

	res := o.ExtractRecord(context.Background(), "Ratatouille")

	require.True(t, res.Success)
	assert.Equal(t, 1, vision.calls["locate"], "stale cache entry fell back to detection")
	entry := o.Cache().Get("Ratatouille")
	require.NotNil(t, entry)
	assert.Equal(t, Point{X: 520, Y: 220}, entry.Click, "cache replaced with the fresh coordinate")
}

func TestScanRecordsTruncates(t *testing.T) {
	vision := newVisionStub()
	vision.on("scan", func(int, string) string {
		return "```json\n[\"A\", \"B\", \"C\", \"D\"]\n```"
	})
	o := newTestOrchestrator(Config{}, vision, &inputStub{}, &captureStub{})

	names, err := o.ScanRecords(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestRunBatchContinuesAfterFailure(t *testing.T) {
	vision := newVisionStub()
	vision.on("locate", func(_ int, prompt string) string {
		if strings.Contains(prompt, "Soupe Disparue") {
			return "NOT_FOUND"
		}
		return "COORDINATES: (480, 220)"
	})
	o := newTestOrchestrator(Config{MaxAttempts: 1}, vision, &inputStub{}, &captureStub{})

	results := o.RunBatch(context.Background(), []string{"Soupe Disparue", "Ratatouille"})

	require.Len(t, results, 2)
	failed := results["Soupe Disparue"]
	assert.False(t, failed.Success)
	assert.Empty(t, failed.Items)
	assert.NotEmpty(t, failed.Error)

	ok := results["Ratatouille"]
	assert.True(t, ok.Success)
	assert.NotEmpty(t, ok.Items)
}

func TestRunBatchHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newTestOrchestrator(Config{}, newVisionStub(), &inputStub{}, &captureStub{})
	results := o.RunBatch(ctx, []string{"Ratatouille"})

	require.Len(t, results, 1)
	res := results["Ratatouille"]
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}
