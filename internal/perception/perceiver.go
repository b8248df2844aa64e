// internal/perception/perceiver.go
package perception

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/colebrumley/cortex/internal/activity"
)

// App identifies the frontmost application.
type App struct {
	Name     string
	BundleID string
}

type AppSource interface {
	Frontmost(ctx context.Context) (App, error)
}

type ScreenSource interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

type BrowserSource interface {
	Latest(maxAge time.Duration) (ExtensionLog, bool)
}

// DefaultBrowsers are the bundle ids the extension bridge reports for.
var DefaultBrowsers = []string{
	"com.apple.Safari",
	"com.google.Chrome",
	"org.mozilla.firefox",
	"com.microsoft.edgemac",
	"com.brave.Browser",
	"company.thebrowser.Browser",
}

// Perceiver assembles a RawContext from the frontmost app, the browser
// extension bridge and, optionally, a screenshot.
type Perceiver struct {
	apps      AppSource
	screens   ScreenSource
	browser   BrowserSource
	monitored map[string]bool
	browsers  map[string]bool
	freshness time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

type Options struct {
	Apps          AppSource
	Screens       ScreenSource // nil disables screenshots
	Browser       BrowserSource
	MonitoredApps []string // empty means every app is relevant
	Browsers      []string // apps whose captures get extension data; empty means DefaultBrowsers
	Freshness     time.Duration
	Logger        *slog.Logger
}

func New(opts Options) *Perceiver {
	p := &Perceiver{
		apps:      opts.Apps,
		screens:   opts.Screens,
		browser:   opts.Browser,
		freshness: opts.Freshness,
		now:       time.Now,
		logger:    opts.Logger,
	}
	if p.freshness <= 0 {
		p.freshness = 60 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	browsers := opts.Browsers
	if len(browsers) == 0 {
		browsers = DefaultBrowsers
	}
	p.browsers = make(map[string]bool, len(browsers))
	for _, b := range browsers {
		p.browsers[strings.ToLower(b)] = true
	}
	if len(opts.MonitoredApps) > 0 {
		p.monitored = make(map[string]bool, len(opts.MonitoredApps))
		for _, a := range opts.MonitoredApps {
			p.monitored[strings.ToLower(a)] = true
		}
	}
	return p
}

// Capture returns nil with no error when nothing relevant is on screen.
func (p *Perceiver) Capture(ctx context.Context) (*activity.RawContext, error) {
	app, err := p.apps.Frontmost(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading frontmost app: %w", err)
	}
	if app.Name == "" && app.BundleID == "" {
		return nil, nil
	}
	if p.monitored != nil && !p.monitored[strings.ToLower(app.Name)] && !p.monitored[strings.ToLower(app.BundleID)] {
		return nil, nil
	}

	raw := &activity.RawContext{
		App:        app.Name,
		BundleID:   app.BundleID,
		CapturedAt: p.now(),
	}

	if p.browser != nil && p.isBrowser(app) {
		if log, ok := p.browser.Latest(p.freshness); ok {
			raw.Domain = log.Domain
			raw.URL = log.URL
			raw.Title = log.Title
		}
	}

	if p.screens != nil {
		png, err := p.screens.Screenshot(ctx)
		if err != nil {
			p.logger.Warn("screenshot unavailable, classifying without it", "error", err)
		} else {
			raw.Screenshot = png
		}
	}
	return raw, nil
}

// isBrowser matches on bundle id or app name, case-insensitively.
func (p *Perceiver) isBrowser(app App) bool {
	return p.browsers[strings.ToLower(app.BundleID)] || p.browsers[strings.ToLower(app.Name)]
}
