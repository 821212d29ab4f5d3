// Package screen drives a real browser viewport through playwright:
// pointer and keyboard injection plus PNG capture, with no DOM access.
// The extraction workflow observes the UI through captures only, so
// the driver stays deliberately small.
package screen

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/polzovatel/table-vision-agent/internal/extract"
)

const (
	defaultNavTimeout = 30 * time.Second
	headlessEnv       = "EXTRACTOR_HEADLESS"
)

// Launcher owns the playwright lifecycle.
type Launcher struct {
	pw       *playwright.Playwright
	browser  playwright.Browser
	headless bool
}

func NewLauncher(ctx context.Context) (*Launcher, error) {
	if err := ensureDeps(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	headless := parseBoolEnv(headlessEnv, false)
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &Launcher{pw: pw, browser: browser, headless: headless}, nil
}

// NewDriver opens a fresh page on the given URL. An optional storage
// state path restores an authenticated session; Notion-style apps need
// it to show the workspace instead of a login wall.
func (l *Launcher) NewDriver(ctx context.Context, url, storagePath string) (*Driver, error) {
	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if strings.TrimSpace(storagePath) != "" {
		if _, err := os.Stat(storagePath); err == nil {
			opts.StorageStatePath = playwright.String(storagePath)
		}
	}
	bctx, err := l.browser.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("new context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	page.SetDefaultTimeout(float64(defaultNavTimeout.Milliseconds()))

	if strings.TrimSpace(url) != "" {
		if _, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateLoad,
			Timeout:   playwright.Float(float64(defaultNavTimeout.Milliseconds())),
		}); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("navigate %s: %w", url, err)
		}
	}
	return &Driver{context: bctx, page: page}, nil
}

func (l *Launcher) Close() error {
	if l.browser != nil {
		_ = l.browser.Close()
	}
	if l.pw != nil {
		return l.pw.Stop()
	}
	return nil
}

// Driver implements the extraction workflow's input and capture
// collaborators on a single page.
type Driver struct {
	context playwright.BrowserContext
	page    playwright.Page
}

var (
	_ extract.Input   = (*Driver)(nil)
	_ extract.Capture = (*Driver)(nil)
)

func (d *Driver) Close(ctx context.Context) error {
	_ = ctx
	if d.page != nil {
		_ = d.page.Close()
	}
	if d.context != nil {
		return d.context.Close()
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, p extract.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(d.page.Mouse().Click(float64(p.X), float64(p.Y)))
}

func (d *Driver) Move(ctx context.Context, p extract.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(d.page.Mouse().Move(float64(p.X), float64(p.Y)))
}

func (d *Driver) SendKeys(ctx context.Context, combo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(d.page.Keyboard().Press(combo))
}

func (d *Driver) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := d.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, wrap(err)
	}
	return data, nil
}

// SaveState persists cookies and local storage for session reuse.
func (d *Driver) SaveState(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.context.StorageState(path)
	return wrap(err)
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("playwright: %w", err)
}

func parseBoolEnv(name string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(name))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func ensureDeps() error {
	// Browsers usually preinstalled in this workspace. Hook for future checks.
	return nil
}
