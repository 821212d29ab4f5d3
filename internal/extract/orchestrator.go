// Package extract implements the resilient extraction workflow: a
// state machine that turns one unreliable "open and read a record"
// operation into a dependable one, backed by an action-history
// tracker and a coordinate cache.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/table-vision-agent/internal/match"
)

// Vision answers a natural-language question about a view capture.
// The orchestrator tolerates decoration around any structured payload
// it asks for.
type Vision interface {
	Ask(ctx context.Context, image []byte, prompt string) (string, error)
}

// Input injects synthetic pointer and keyboard events. Calls are
// fire-and-forget; the orchestrator compensates with settle waits,
// not acknowledgments.
type Input interface {
	Click(ctx context.Context, p Point) error
	Move(ctx context.Context, p Point) error
	SendKeys(ctx context.Context, combo string) error
}

// Capture takes a synchronous snapshot of the current UI state.
type Capture interface {
	Capture(ctx context.Context) ([]byte, error)
}

const (
	defaultMaxAttempts    = 2
	defaultSettleInterval = 1500 * time.Millisecond
	defaultCloseKey       = "Escape"
	defaultBackCombo      = "Meta+BracketLeft"
	defaultCloseViewCombo = "Meta+w"
)

type Config struct {
	// MaxAttempts is the outer per-record retry budget, independent
	// of the tracker's inner per-action budget.
	MaxAttempts int
	// SettleInterval is the wait inserted after each input action so
	// the UI can stabilize before the next observation.
	SettleInterval time.Duration
	// StepTimeout bounds each vision round trip. Zero means three
	// settle intervals.
	StepTimeout time.Duration
	// MatchThreshold is the fuzzy ratio required to confirm the
	// displayed title. Zero means match.DefaultThreshold.
	MatchThreshold float64
	// CacheTTL is the location cache expiry. Zero means five minutes.
	CacheTTL time.Duration
	// CloseKey dismisses an inline panel.
	CloseKey string
	// BackCombo is the defensive back-navigation sent after CloseKey.
	BackCombo string
	// CloseViewCombo closes an unintended full-page view.
	CloseViewCombo string
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.SettleInterval <= 0 {
		c.SettleInterval = defaultSettleInterval
	}
	if c.StepTimeout <= 0 {
		c.StepTimeout = 3 * c.SettleInterval
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = match.DefaultThreshold
	}
	if c.CloseKey == "" {
		c.CloseKey = defaultCloseKey
	}
	if c.BackCombo == "" {
		c.BackCombo = defaultBackCombo
	}
	if c.CloseViewCombo == "" {
		c.CloseViewCombo = defaultCloseViewCombo
	}
	return c
}

// ExtractionResult is the outcome for one record.
type ExtractionResult struct {
	Name    string   `json:"name"`
	Items   []string `json:"items"`
	Success bool     `json:"success"`
	// Verified is false when the displayed title did not fuzzy-match
	// the expected name. Extraction proceeds anyway because title
	// OCR is noisy, but downstream consumers can tell a confirmed
	// extraction from an unconfirmed one.
	Verified bool   `json:"verified"`
	Error    string `json:"error,omitempty"`
}

type runState int

const (
	stateIdle runState = iota
	stateLocating
	stateOpened
	stateVerifying
	stateExtracting
	stateClosing
	stateRecovering
	stateDone
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateLocating:
		return "locating"
	case stateOpened:
		return "opened"
	case stateVerifying:
		return "verifying"
	case stateExtracting:
		return "extracting"
	case stateClosing:
		return "closing"
	case stateRecovering:
		return "recovering"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Action kinds recorded in the tracker. The cached and fresh open
// paths are tracked separately so exhausting one budget switches the
// strategy instead of blocking both.
const (
	actionOpenCached = "open_cached"
	actionOpenDetect = "open_detect"
)

// Orchestrator drives locate, open, verify, extract and close for one
// record at a time. Records share a single UI viewport and input
// device, so runs are strictly sequential.
type Orchestrator struct {
	cfg     Config
	vision  Vision
	input   Input
	capture Capture
	tracker *ActionTracker
	cache   *LocationCache
	logger  zerolog.Logger
	sleep   func(time.Duration)
}

func NewOrchestrator(cfg Config, vision Vision, input Input, capture Capture, logger zerolog.Logger) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:     cfg,
		vision:  vision,
		input:   input,
		capture: capture,
		tracker: NewActionTracker(0),
		cache:   NewLocationCache(cfg.CacheTTL),
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Tracker exposes the session action history for diagnostics.
func (o *Orchestrator) Tracker() *ActionTracker { return o.tracker }

// Cache exposes the location cache for diagnostics.
func (o *Orchestrator) Cache() *LocationCache { return o.cache }

// ScanRecords asks the vision model for the first count record names
// visible in the table, top to bottom.
func (o *Orchestrator) ScanRecords(ctx context.Context, count int) ([]string, error) {
	resp, err := o.askVision(ctx, promptScanRecords(count))
	if err != nil {
		return nil, err
	}
	names, err := parseStringArray(resp)
	if err != nil {
		return nil, err
	}
	if len(names) > count {
		names = names[:count]
	}
	o.logger.Info().Int("count", len(names)).Strs("records", names).Msg("records detected on screen")
	return names, nil
}

// RunBatch processes records strictly in order: a record's locate
// step only begins after the previous record's close completed. A
// failed record yields an empty unsuccessful result and never aborts
// the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, names []string) map[string]ExtractionResult {
	runID := uuid.NewString()
	logger := o.logger.With().Str("run", runID).Logger()
	results := make(map[string]ExtractionResult, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			results[name] = ExtractionResult{Name: name, Items: []string{}, Error: err.Error()}
			continue
		}
		logger.Info().
			Int("index", i+1).
			Int("total", len(names)).
			Str("record", name).
			Msg("processing record")
		results[name] = o.ExtractRecord(ctx, name)
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	logger.Info().
		Int("succeeded", succeeded).
		Int("total", len(names)).
		Int("cached_targets", o.cache.Stats().Count).
		Msg("batch finished")
	return results
}

// ExtractRecord runs the state machine for a single record, retrying
// failed attempts up to the outer budget. Exhaustion yields an empty
// item list with Success=false; it never returns an error to the
// batch driver.
func (o *Orchestrator) ExtractRecord(ctx context.Context, name string) ExtractionResult {
	var lastErr error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		res, err := o.runAttempt(ctx, name)
		if err == nil {
			return res
		}
		lastErr = err
		o.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", o.cfg.MaxAttempts).
			Str("record", name).
			Msg("attempt failed")
		if attempt < o.cfg.MaxAttempts {
			o.recover(ctx)
		}
	}
	o.logger.Error().Err(lastErr).Str("record", name).Msg("record extraction failed")
	return ExtractionResult{Name: name, Items: []string{}, Error: lastErr.Error()}
}

// runAttempt walks the state machine once. Once the open click went
// out, every exit path runs the close sequence so the UI is back in a
// neutral state before the next record.
func (o *Orchestrator) runAttempt(ctx context.Context, name string) (ExtractionResult, error) {
	var (
		click     Point
		region    Region
		usedCache bool
		items     []string
		verified  bool
		opened    bool
		failure   error
	)

	st := stateLocating
	for st != stateDone && st != stateFailed {
		o.logger.Debug().Str("state", st.String()).Str("record", name).Msg("state")
		switch st {
		case stateLocating:
			click, region, usedCache, failure = o.locateAndOpen(ctx, name)
			if failure != nil {
				st = stateFailed
				break
			}
			opened = true
			st = stateOpened

		case stateOpened:
			o.settle()
			if failure = o.ensureInlineView(ctx, name, click); failure != nil {
				st = stateFailed
				break
			}
			st = stateVerifying

		case stateVerifying:
			verified, failure = o.verifyRecord(ctx, name, usedCache)
			if failure != nil {
				st = stateFailed
				break
			}
			st = stateExtracting

		case stateExtracting:
			items, failure = o.extractItems(ctx, name)
			if failure != nil {
				st = stateFailed
				break
			}
			st = stateClosing

		case stateClosing:
			o.closeView(ctx)
			st = stateDone
		}
	}

	if st == stateFailed {
		if opened {
			o.closeView(ctx)
		}
		return ExtractionResult{}, failure
	}

	if usedCache {
		o.cache.RecordSuccess(name)
	} else {
		o.cache.Set(name, region, click)
	}
	return ExtractionResult{Name: name, Items: items, Success: true, Verified: verified}, nil
}

// locateAndOpen clicks the record's open affordance, via the cached
// coordinate when a valid entry exists and its budget allows, else
// via fresh vision detection: hover the row so the hidden affordance
// renders, then find and click it.
func (o *Orchestrator) locateAndOpen(ctx context.Context, name string) (Point, Region, bool, error) {
	params := map[string]string{"record": name}

	if entry := o.cache.Get(name); entry != nil && o.tracker.ShouldRetry(actionOpenCached, params) {
		if o.tracker.TriedRecently(actionOpenCached, params, 0) {
			o.logger.Debug().Str("record", name).Msg("cached open attempted recently")
		}
		err := o.input.Click(ctx, entry.Click)
		o.recordAction(actionOpenCached, params, err)
		if err == nil {
			o.logger.Info().
				Str("record", name).
				Int("x", entry.Click.X).
				Int("y", entry.Click.Y).
				Msg("opened via cached coordinate")
			return entry.Click, entry.Region, true, nil
		}
		// A cached coordinate that fails to click is stale.
		o.cache.Invalidate(name)
	}

	if !o.tracker.ShouldRetry(actionOpenDetect, params) {
		return Point{}, Region{}, false, fmt.Errorf("%w: detection budget exhausted for %q", ErrLocate, name)
	}

	rowPt, region, err := o.locateRow(ctx, name)
	if err != nil {
		o.recordAction(actionOpenDetect, params, err)
		return Point{}, Region{}, false, err
	}
	if err := o.input.Move(ctx, rowPt); err != nil {
		o.recordAction(actionOpenDetect, params, err)
		return Point{}, Region{}, false, fmt.Errorf("%w: hover: %v", ErrLocate, err)
	}
	o.settle()

	resp, err := o.askVision(ctx, promptOpenControl(name))
	if err != nil {
		o.recordAction(actionOpenDetect, params, err)
		return Point{}, Region{}, false, err
	}
	btnPt, _, err := parseLocation(resp)
	if err != nil {
		o.recordAction(actionOpenDetect, params, err)
		return Point{}, Region{}, false, err
	}

	err = o.input.Click(ctx, btnPt)
	o.recordAction(actionOpenDetect, params, err)
	if err != nil {
		return Point{}, Region{}, false, fmt.Errorf("%w: click: %v", ErrLocate, err)
	}
	o.logger.Info().
		Str("record", name).
		Int("x", btnPt.X).
		Int("y", btnPt.Y).
		Msg("opened via fresh detection")
	return btnPt, region, false, nil
}

func (o *Orchestrator) locateRow(ctx context.Context, name string) (Point, Region, error) {
	resp, err := o.askVision(ctx, promptLocateRecord(name))
	if err != nil {
		return Point{}, Region{}, err
	}
	return parseLocation(resp)
}

// ensureInlineView detects a click that navigated to a full page
// instead of opening the inline panel. One corrective round is
// allowed: close the view, re-issue the click, re-check.
func (o *Orchestrator) ensureInlineView(ctx context.Context, name string, click Point) error {
	navigated, err := o.checkNavigation(ctx, name)
	if err != nil {
		return err
	}
	if !navigated {
		return nil
	}

	o.logger.Warn().Str("record", name).Msg("opened as full page, closing and re-clicking")
	if err := o.input.SendKeys(ctx, o.cfg.CloseViewCombo); err != nil {
		o.logger.Debug().Err(err).Msg("close view combo failed")
	}
	o.settle()
	if err := o.input.Click(ctx, click); err != nil {
		return fmt.Errorf("%w: re-click: %v", ErrLocate, err)
	}
	o.settle()

	navigated, err = o.checkNavigation(ctx, name)
	if err != nil {
		return err
	}
	if navigated {
		return fmt.Errorf("%w: %q still opens as a full page", ErrNavigation, name)
	}
	return nil
}

func (o *Orchestrator) checkNavigation(ctx context.Context, name string) (bool, error) {
	resp, err := o.askVision(ctx, promptNavigationCheck(name))
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(resp), "YES"), nil
}

// verifyRecord confirms a detail view is visible and fuzzy-matches
// its title against the expected name. A title mismatch is a warning
// only: extraction proceeds with Verified=false. No view at all
// fails the attempt.
func (o *Orchestrator) verifyRecord(ctx context.Context, name string, usedCache bool) (bool, error) {
	resp, err := o.askVision(ctx, promptVerifyRecord(name))
	if err != nil {
		return false, err
	}
	v := parseVerification(resp)
	if !v.Visible {
		if usedCache {
			o.cache.Invalidate(name)
		}
		return false, fmt.Errorf("%w: no detail view visible for %q", ErrLocate, name)
	}
	if v.Title == "" {
		o.logger.Debug().Str("record", name).Str("view", v.View).Msg("detail view visible, title unreadable")
		return false, nil
	}
	if !match.Match(name, v.Title, o.cfg.MatchThreshold) {
		o.logger.Warn().
			Str("record", name).
			Str("displayed", v.Title).
			Str("view", v.View).
			Msg("displayed title does not match expected record, extracting anyway")
		if usedCache {
			o.cache.Invalidate(name)
		}
		return false, nil
	}
	o.logger.Info().Str("record", name).Str("view", v.View).Msg("record confirmed")
	return true, nil
}

func (o *Orchestrator) extractItems(ctx context.Context, name string) ([]string, error) {
	resp, err := o.askVision(ctx, promptExtractItems(name))
	if err != nil {
		return nil, err
	}
	items, err := parseItemsPayload(resp)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Int("items", len(items)).Str("record", name).Msg("items extracted")
	return items, nil
}

// closeView returns the UI to the neutral table view. The close key
// dismisses an inline panel; the back combo covers a full-page detail
// view. Both run unconditionally.
func (o *Orchestrator) closeView(ctx context.Context) {
	if err := o.input.SendKeys(ctx, o.cfg.CloseKey); err != nil {
		o.logger.Debug().Err(err).Msg("close key failed")
	}
	o.settle()
	if err := o.input.SendKeys(ctx, o.cfg.BackCombo); err != nil {
		o.logger.Debug().Err(err).Msg("back combo failed")
	}
	o.settle()
}

// recover neutralizes the UI between outer attempts.
func (o *Orchestrator) recover(ctx context.Context) {
	o.logger.Debug().Str("state", stateRecovering.String()).Msg("state")
	if err := o.input.SendKeys(ctx, o.cfg.CloseKey); err != nil {
		o.logger.Debug().Err(err).Msg("recover key failed")
	}
	o.settle()
}

// askVision captures the current view and asks one question about it,
// bounded by the step timeout. A deadline hit maps to ErrTimeout and
// feeds the same retry path as any other step failure.
func (o *Orchestrator) askVision(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
	defer cancel()

	img, err := o.capture.Capture(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: capture: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("capture: %w", err)
	}
	text, err := o.vision.Ask(ctx, img, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: vision: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("vision: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (o *Orchestrator) recordAction(kind string, params map[string]string, err error) {
	if err != nil {
		o.tracker.Record(kind, params, OutcomeFailure, err.Error())
		return
	}
	o.tracker.Record(kind, params, OutcomeSuccess, "")
}

func (o *Orchestrator) settle() {
	o.sleep(o.cfg.SettleInterval)
}
