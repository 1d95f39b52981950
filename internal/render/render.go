// Package render fetches the monitored page through headless Chrome and
// returns its visible text. It owns the browser lifecycle (launch, reuse,
// relaunch after crash) and the per-fetch dance: cookie injection, stealth
// navigation, waiting for the app container, and letting in-flight XHR
// traffic settle before reading text.
package render

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Error marks any failure inside the render pipeline. The watcher recovers
// from these by retrying on the next tick; they never touch the record.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "render: " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func renderErr(op string, err error) error { return &Error{Op: op, Err: err} }

// Config configures the renderer.
type Config struct {
	// URL of the monitored page.
	URL string
	// Cookie is a raw Cookie header string ("a=1; b=2") copied from an
	// authenticated browser session.
	Cookie string
	// Selector is the container whose inner text is classified.
	// Default: "div.radix-themes".
	Selector string
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string
	// NoSandbox passes --no-sandbox, required in most containers.
	NoSandbox bool
	// NavTimeout bounds navigation + load. Default: 30s.
	NavTimeout time.Duration
	// WaitTimeout bounds waiting for the container element. Default: 20s.
	WaitTimeout time.Duration
	// SettleTimeout bounds waiting for pending XHR traffic. Default: 25s.
	SettleTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Selector == "" {
		c.Selector = "div.radix-themes"
	}
	if c.NavTimeout <= 0 {
		c.NavTimeout = 30 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 20 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 25 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Snapshot is the outcome of one render: best-effort extracted text plus
// the raw HTML it came from.
type Snapshot struct {
	// Text is the visible text of the container (or the whole body when
	// the container never appeared, e.g. behind a login wall).
	Text string
	// HTML is the serialized document, kept for the check-log excerpt.
	HTML string
	// ContainerFound reports whether the app container showed up.
	ContainerFound bool
}

// Renderer drives headless Chrome. Safe for use by one checker at a time;
// the watcher's pipeline lock already serializes callers.
type Renderer struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates a Renderer. Chrome is launched lazily on the first Fetch.
func New(cfg Config) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg}
}

// Close shuts down the browser if one is running.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropBrowserLocked()
}

// pendingJS counts in-flight fetch/XHR requests so we can tell when the
// page's API chatter has gone quiet. Installed right after load; it only
// sees traffic started after installation, which is exactly the post-load
// API chatter the settle loop cares about.
const pendingJS = `() => {
  if (window.__pending !== undefined) return;
  const origFetch = window.fetch;
  window.__pending = 0;
  window.fetch = async function() {
    window.__pending++;
    try { return await origFetch.apply(this, arguments); }
    finally { window.__pending--; }
  };
  const open = XMLHttpRequest.prototype.open;
  const send = XMLHttpRequest.prototype.send;
  XMLHttpRequest.prototype.open = function() {
    this.addEventListener('loadend', () => { window.__pending = Math.max(0, window.__pending-1); });
    open.apply(this, arguments);
  };
  XMLHttpRequest.prototype.send = function() {
    window.__pending++;
    try { send.apply(this, arguments); }
    catch(e){ window.__pending = Math.max(0, window.__pending-1); throw e; }
  };
}`

// Fetch renders the page once and returns its snapshot. On success the text
// is best-effort: a missing container degrades to body text rather than an
// error, because that text (a login page, an error page) still classifies.
func (r *Renderer) Fetch(ctx context.Context) (*Snapshot, error) {
	log := r.cfg.Logger

	b, err := r.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		// A dead browser is the usual cause; drop it so the next check
		// relaunches, and fail this one.
		r.recycle()
		return nil, renderErr("new page", err)
	}
	defer page.Close()

	if r.cfg.Cookie != "" {
		cookies := ParseCookieHeader(r.cfg.Cookie, CookieDomain(r.cfg.URL))
		if err := page.SetCookies(cookies); err != nil {
			return nil, renderErr("set cookies", err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(r.cfg.URL); err != nil {
		return nil, renderErr("navigate "+r.cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		log.Warn("render: wait load timeout", "url", r.cfg.URL, "error", err)
	}

	if _, err := page.Context(navCtx).Eval(pendingJS); err != nil {
		log.Warn("render: pending counter install failed", "error", err)
	}

	// Wait for the app container. Absent container usually means a login
	// redirect; fall back to body text and let the classifier decide.
	waitCtx, cancelWait := context.WithTimeout(ctx, r.cfg.WaitTimeout)
	defer cancelWait()
	el, err := page.Context(waitCtx).Element(r.cfg.Selector)
	if err != nil {
		log.Info("render: container not found, reading body",
			"selector", r.cfg.Selector)
		return r.snapshotBody(ctx, page, false)
	}

	r.waitSettled(ctx, page)

	text, err := el.Text()
	if err != nil {
		log.Warn("render: container text read failed, reading body", "error", err)
		return r.snapshotBody(ctx, page, true)
	}

	html, err := page.HTML()
	if err != nil {
		log.Debug("render: html capture failed", "error", err)
		html = ""
	}

	return &Snapshot{Text: text, HTML: html, ContainerFound: true}, nil
}

// snapshotBody reads whatever the body currently shows.
func (r *Renderer) snapshotBody(ctx context.Context, page *rod.Page, containerFound bool) (*Snapshot, error) {
	readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	html, htmlErr := page.Context(readCtx).HTML()

	body, err := page.Context(readCtx).Element("body")
	if err != nil {
		if htmlErr == nil && html != "" {
			// DOM handle gone but we still have markup; extract from it.
			return &Snapshot{Text: ExtractText(html), HTML: html, ContainerFound: containerFound}, nil
		}
		return nil, renderErr("read body", err)
	}
	text, err := body.Text()
	if err != nil {
		if htmlErr == nil && html != "" {
			return &Snapshot{Text: ExtractText(html), HTML: html, ContainerFound: containerFound}, nil
		}
		return nil, renderErr("body text", err)
	}
	return &Snapshot{Text: text, HTML: html, ContainerFound: containerFound}, nil
}

// waitSettled polls the injected pending counter until it has been zero for
// two consecutive seconds, bounded by SettleTimeout. Never fails: a page
// that won't go quiet is read as-is.
func (r *Renderer) waitSettled(ctx context.Context, page *rod.Page) {
	deadline := time.Now().Add(r.cfg.SettleTimeout)
	quietSince := time.Time{}

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-time.After(300 * time.Millisecond):
		}

		res, err := page.Eval(`() => window.__pending ?? 0`)
		if err != nil {
			return
		}
		if res.Value.Int() == 0 {
			if quietSince.IsZero() {
				quietSince = time.Now()
			} else if time.Since(quietSince) >= 2*time.Second {
				return
			}
		} else {
			quietSince = time.Time{}
		}
	}
}

// ensureBrowser launches or reuses Chrome.
func (r *Renderer) ensureBrowser() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return r.browser, nil
	}

	log := r.cfg.Logger
	var wsURL string

	if r.cfg.RemoteURL != "" {
		wsURL = r.cfg.RemoteURL
		log.Info("render: connecting to remote chrome", "url", wsURL)
	} else {
		l := launcher.New().Headless(true)
		if r.cfg.NoSandbox {
			l = l.Set("no-sandbox")
		}
		// Anti-detection flag, same as a stealth page expects.
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, renderErr("launch chrome", err)
		}
		wsURL = u
		r.lnch = l
		log.Info("render: launched local chrome")
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		if r.lnch != nil {
			r.lnch.Cleanup()
			r.lnch = nil
		}
		return nil, renderErr("connect chrome", err)
	}
	r.browser = b
	return b, nil
}

// recycle drops the current browser so the next fetch relaunches.
func (r *Renderer) recycle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Logger.Info("render: recycling browser")
	r.dropBrowserLocked()
}

func (r *Renderer) dropBrowserLocked() {
	if r.browser != nil {
		r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
}

// ParseCookieHeader splits a raw Cookie header into cookie params bound to
// domain. Malformed fragments are skipped.
func ParseCookieHeader(header, domain string) []*proto.NetworkCookieParam {
	var out []*proto.NetworkCookieParam
	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		name, value, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		out = append(out, &proto.NetworkCookieParam{
			Name:   strings.TrimSpace(name),
			Value:  strings.TrimSpace(value),
			Domain: domain,
			Path:   "/",
			Secure: true,
		})
	}
	return out
}

// CookieDomain derives the cookie scope from a page URL: the host minus its
// first label, dot-prefixed, so cookies set for app.example.com apply to
// the whole example.com zone the way a browser session would carry them.
func CookieDomain(pageURL string) string {
	host := pageURL
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if i := strings.IndexAny(host, "/:?"); i >= 0 {
		host = host[:i]
	}
	parts := strings.Split(host, ".")
	if len(parts) > 2 {
		return "." + strings.Join(parts[1:], ".")
	}
	if host == "" {
		return ""
	}
	return "." + host
}
