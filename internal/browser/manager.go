// Package browser drives headless Chrome through go-rod. A Manager owns the
// Chrome process; each Session is an isolated incognito context restored from
// an Account's stored cookies.
package browser

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/qa-scraper/internal/config"
	"github.com/sells-group/qa-scraper/internal/model"
)

// Manager launches (or connects to) Chrome lazily and hands out sessions.
type Manager struct {
	cfg config.BrowserConfig

	mu       sync.Mutex
	browser  *rod.Browser
	lnch     *launcher.Launcher
	closed   bool
	limiters map[string]*rate.Limiter
}

// NewManager creates a Manager. Chrome is not started until the first Open.
func NewManager(cfg config.BrowserConfig) *Manager {
	return &Manager{cfg: cfg, limiters: make(map[string]*rate.Limiter)}
}

// Open restores acct's session into a fresh incognito page. An account with
// no stored cookies is rejected before Chrome is touched.
func (m *Manager) Open(ctx context.Context, acct *model.Account) (Session, error) {
	if acct == nil || acct.SessionState.Empty() {
		identity := ""
		if acct != nil {
			identity = acct.Identity
		}
		return nil, model.Errorf(model.KindUnauthenticated, "browser.open", "account %q has no session state", identity)
	}

	s, err := m.newSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.page.SetCookies(toCookieParams(acct.SessionState.Cookies)); err != nil {
		s.Close() //nolint:errcheck
		return nil, model.Wrap(model.KindUnauthenticated, "browser.open", eris.Wrap(err, "browser: set cookies"))
	}

	zap.L().Debug("browser: session opened",
		zap.String("site", acct.Site),
		zap.String("identity", acct.Identity),
		zap.Int("cookies", len(acct.SessionState.Cookies)),
	)
	return s, nil
}

// Close shuts down Chrome. Sessions still open become unusable.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) newSession(ctx context.Context) (*rodSession, error) {
	b, err := m.ensureBrowser(ctx)
	if err != nil {
		return nil, model.Wrap(model.KindNavigation, "browser.open", err)
	}

	incog, err := b.Incognito()
	if err != nil {
		return nil, model.Wrap(model.KindNavigation, "browser.open", eris.Wrap(err, "browser: incognito context"))
	}

	page, err := newPage(incog, m.cfg)
	if err != nil {
		incog.Close() //nolint:errcheck
		return nil, model.Wrap(model.KindNavigation, "browser.open", err)
	}

	return &rodSession{
		mgr:     m,
		incog:   incog,
		page:    page,
		navWait: m.cfg.NavigationTimeoutDuration(),
		selWait: m.cfg.SelectorTimeoutDuration(),
	}, nil
}

func (m *Manager) ensureBrowser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, eris.New("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		return nil, err
	}
	m.browser = b
	return b, nil
}

// launch starts or connects to Chrome. The process outlives ctx; it belongs
// to the Manager and ends in Close.
func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "browser: launch")
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		zap.L().Info("browser: connecting to remote chrome", zap.String("url", wsURL))
	} else {
		l := launcher.New().
			Headless(m.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, eris.Wrap(err, "browser: launch")
		}
		wsURL = u
		m.lnch = l
		zap.L().Info("browser: launched local chrome",
			zap.String("url", wsURL),
			zap.Bool("headless", m.cfg.Headless),
			zap.Bool("stealth", m.cfg.Stealth),
		)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, eris.Wrap(err, "browser: connect")
	}
	return b, nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	if err != nil {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}

// limiter returns the shared navigation limiter for rawURL's host. Sessions
// for the same site share it so rotation does not multiply request rate.
func (m *Manager) limiter(rawURL string) *rate.Limiter {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lim, ok := m.limiters[host]
	if !ok {
		interval := time.Duration(m.cfg.MinNavIntervalMs) * time.Millisecond
		if interval <= 0 {
			lim = rate.NewLimiter(rate.Inf, 1)
		} else {
			lim = rate.NewLimiter(rate.Every(interval), 1)
		}
		m.limiters[host] = lim
	}
	return lim
}
