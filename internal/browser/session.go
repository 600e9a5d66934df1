package browser

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"

	"github.com/sells-group/qa-scraper/internal/config"
	"github.com/sells-group/qa-scraper/internal/model"
)

// Session is a live, authenticated browser page. Calls are not safe for
// concurrent use; one extraction drives one session.
type Session interface {
	// Navigate loads rawURL and waits for the load event.
	Navigate(ctx context.Context, rawURL string) error
	// Search types query into inputSel and submits it, either by clicking
	// submitSel or, when submitSel is empty, by pressing Enter.
	Search(ctx context.Context, inputSel, submitSel, query string) error
	// HTML returns the current document's outer HTML.
	HTML(ctx context.Context) (string, error)
	// URL returns the current page URL.
	URL() string
	// Cookies returns every cookie visible to the current page.
	Cookies(ctx context.Context) ([]model.Cookie, error)
	// Close releases the page and its incognito context.
	Close() error
}

// Opener restores Account sessions.
type Opener interface {
	Open(ctx context.Context, acct *model.Account) (Session, error)
}

type rodSession struct {
	mgr     *Manager
	incog   *rod.Browser
	page    *rod.Page
	lastURL string
	navWait time.Duration
	selWait time.Duration
	closed  bool
}

func newPage(b *rod.Browser, cfg config.BrowserConfig) (*rod.Page, error) {
	var (
		page *rod.Page
		err  error
	)
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, eris.Wrap(err, "browser: create page")
	}

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: cfg.UserAgent}); err != nil {
			page.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "browser: set user agent")
		}
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             cfg.ViewportWidth,
			Height:            cfg.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			page.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "browser: set viewport")
		}
	}
	return page, nil
}

func (s *rodSession) Navigate(ctx context.Context, rawURL string) error {
	if err := s.mgr.limiter(rawURL).Wait(ctx); err != nil {
		return model.Wrap(model.KindNavigation, "browser.navigate", eris.Wrap(err, "browser: rate limit wait"))
	}

	navCtx, cancel := context.WithTimeout(ctx, s.navWait)
	defer cancel()

	p := s.page.Context(navCtx)
	if err := p.Navigate(rawURL); err != nil {
		return model.Wrap(model.KindNavigation, "browser.navigate", eris.Wrapf(err, "browser: navigate %s", rawURL))
	}
	if err := p.WaitLoad(); err != nil {
		return model.Wrap(model.KindNavigation, "browser.navigate", eris.Wrapf(err, "browser: wait load %s", rawURL))
	}
	s.lastURL = rawURL
	return nil
}

func (s *rodSession) Search(ctx context.Context, inputSel, submitSel, query string) error {
	selCtx, cancel := context.WithTimeout(ctx, s.selWait)
	defer cancel()

	field, err := s.page.Context(selCtx).Element(inputSel)
	if err != nil {
		return model.Wrap(model.KindNavigation, "browser.search", eris.Wrapf(err, "browser: search input %q", inputSel))
	}
	if err := field.Input(query); err != nil {
		return model.Wrap(model.KindNavigation, "browser.search", eris.Wrap(err, "browser: type query"))
	}

	navCtx, navCancel := context.WithTimeout(ctx, s.navWait)
	defer navCancel()
	wait := s.page.Context(navCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)

	if submitSel == "" {
		err = field.Type(input.Enter)
	} else {
		var btn *rod.Element
		btn, err = s.page.Context(selCtx).Element(submitSel)
		if err == nil {
			err = btn.Click(proto.InputMouseButtonLeft, 1)
		}
	}
	if err != nil {
		return model.Wrap(model.KindNavigation, "browser.search", eris.Wrap(err, "browser: submit search"))
	}

	wait()
	if err := navCtx.Err(); err != nil {
		return model.Wrap(model.KindNavigation, "browser.search", eris.Wrap(err, "browser: wait for results"))
	}
	s.lastURL = ""
	return nil
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	selCtx, cancel := context.WithTimeout(ctx, s.selWait)
	defer cancel()

	html, err := s.page.Context(selCtx).HTML()
	if err != nil {
		return "", model.Wrap(model.KindNavigation, "browser.html", eris.Wrap(err, "browser: get DOM"))
	}
	return html, nil
}

func (s *rodSession) URL() string {
	info, err := s.page.Info()
	if err != nil || info == nil {
		return s.lastURL
	}
	return info.URL
}

func (s *rodSession) Cookies(ctx context.Context) ([]model.Cookie, error) {
	cookies, err := s.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, eris.Wrap(err, "browser: read cookies")
	}
	return fromNetworkCookies(cookies), nil
}

func (s *rodSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	if err := s.page.Close(); err != nil {
		first = eris.Wrap(err, "browser: close page")
	}
	if err := s.incog.Close(); err != nil && first == nil {
		first = eris.Wrap(err, "browser: close incognito context")
	}
	return first
}
