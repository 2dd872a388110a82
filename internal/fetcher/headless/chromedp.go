// Package headless loads pages in a headless Chrome and returns the rendered DOM.
package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/scheduled-scraper/internal/page"
)

// DefaultTimeout bounds navigation when Config.Timeout is unset.
const DefaultTimeout = 600 * time.Second

var (
	// ErrBrowserLaunch means the browser process could not be started.
	ErrBrowserLaunch = errors.New("browser launch failed")
	// ErrNavigationTimeout means the page did not finish loading in time.
	ErrNavigationTimeout = errors.New("navigation timed out")
	// ErrNavigation covers every other navigation or extraction failure.
	ErrNavigation = errors.New("navigation failed")
)

// Stage names the step of a fetch that failed.
type Stage string

// Fetch stages.
const (
	StageLaunch   Stage = "launch"
	StageNavigate Stage = "navigate"
	StageParse    Stage = "parse"
)

// FetchError describes a failed fetch.
type FetchError struct {
	Stage Stage
	URL   string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Stage, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config controls the behavior of the headless fetcher.
type Config struct {
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	NoSandbox      bool
	DisableDevShm  bool
	ExecPath       string
	UserAgent      string
}

// Fetcher implements page fetching with chromedp. Every Fetch launches its own
// browser and tears it down before returning.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	mu   sync.Mutex
	last *os.Process
}

// NewChromedp validates cfg and returns a Fetcher.
func NewChromedp(cfg Config, logger *zap.Logger) (*Fetcher, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ViewportWidth <= 0 || cfg.ViewportHeight <= 0 {
		return nil, fmt.Errorf("viewport must be positive, got %dx%d", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}, nil
}

// Fetch navigates to rawURL, waits for the load event and returns the parsed
// rendered DOM. The browser is released on every return path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*page.Document, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, f.allocatorOptions()...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx); err != nil {
		return nil, &FetchError{Stage: StageLaunch, URL: rawURL, Err: fmt.Errorf("%w: %w", ErrBrowserLaunch, err)}
	}
	f.recordProcess(browserCtx)

	navCtx, navCancel := context.WithTimeout(browserCtx, f.cfg.Timeout)
	defer navCancel()

	f.logger.Info("Getting URL", zap.String("url", rawURL), zap.Duration("timeout", f.cfg.Timeout))
	source, err := f.render(navCtx, rawURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrNavigationTimeout, f.cfg.Timeout, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrNavigation, err)
		}
		return nil, &FetchError{Stage: StageNavigate, URL: rawURL, Err: err}
	}

	f.logger.Debug("Parsing page source", zap.Int("bytes", len(source)))
	doc, err := page.Parse(source)
	if err != nil {
		return nil, &FetchError{Stage: StageParse, URL: rawURL, Err: err}
	}
	return doc, nil
}

func (f *Fetcher) render(ctx context.Context, rawURL string) (string, error) {
	var source string
	tasks := chromedp.Tasks{}
	if f.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(f.cfg.UserAgent))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.OuterHTML("html", &source, chromedp.ByQuery),
	)
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return source, nil
}

func (f *Fetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(f.cfg.ViewportWidth, f.cfg.ViewportHeight),
	)
	if f.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if f.cfg.DisableDevShm {
		opts = append(opts, chromedp.Flag("disable-dev-shm-usage", true))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

func (f *Fetcher) recordProcess(browserCtx context.Context) {
	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		return
	}
	proc := c.Browser.Process()
	if proc == nil {
		return
	}
	f.logger.Debug("Browser launched", zap.Int("pid", proc.Pid))
	f.mu.Lock()
	f.last = proc
	f.mu.Unlock()
}

// lastProcess returns the most recently launched browser process, if any.
func (f *Fetcher) lastProcess() *os.Process {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}
