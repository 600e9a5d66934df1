package browser

import (
	"context"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/qa-scraper/internal/model"
)

// LoginForm locates a site's sign-in form.
type LoginForm struct {
	URL           string
	IdentityInput string
	PasswordInput string
	Submit        string
	// CSRFInput, when set, names a hidden input whose value is captured as
	// the session's CSRF token after login.
	CSRFInput string
}

// Login signs in through form in a fresh incognito context and returns the
// resulting cookies. The password only ever reaches the page.
func (m *Manager) Login(ctx context.Context, form LoginForm, identity, password string) (model.SessionState, error) {
	if form.URL == "" || form.IdentityInput == "" || form.PasswordInput == "" {
		return model.SessionState{}, model.Errorf(model.KindValidation, "browser.login", "login form is incomplete")
	}

	s, err := m.newSession(ctx)
	if err != nil {
		return model.SessionState{}, err
	}
	defer s.Close() //nolint:errcheck

	if err := s.Navigate(ctx, form.URL); err != nil {
		return model.SessionState{}, err
	}

	selCtx, cancel := context.WithTimeout(ctx, s.selWait)
	defer cancel()
	page := s.page.Context(selCtx)

	idEl, err := page.Element(form.IdentityInput)
	if err != nil {
		return model.SessionState{}, model.Wrap(model.KindNavigation, "browser.login", eris.Wrap(err, "browser: identity input"))
	}
	if err := idEl.Input(identity); err != nil {
		return model.SessionState{}, model.Wrap(model.KindNavigation, "browser.login", eris.Wrap(err, "browser: type identity"))
	}

	pwEl, err := page.Element(form.PasswordInput)
	if err != nil {
		return model.SessionState{}, model.Wrap(model.KindNavigation, "browser.login", eris.Wrap(err, "browser: password input"))
	}
	if err := pwEl.Input(password); err != nil {
		return model.SessionState{}, model.Wrap(model.KindNavigation, "browser.login", eris.Wrap(err, "browser: type password"))
	}

	navCtx, navCancel := context.WithTimeout(ctx, s.navWait)
	defer navCancel()
	wait := s.page.Context(navCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)

	if form.Submit == "" {
		err = pwEl.Type(input.Enter)
	} else {
		var btn *rod.Element
		btn, err = page.Element(form.Submit)
		if err == nil {
			err = btn.Click(proto.InputMouseButtonLeft, 1)
		}
	}
	if err != nil {
		return model.SessionState{}, model.Wrap(model.KindNavigation, "browser.login", eris.Wrap(err, "browser: submit login"))
	}
	wait()

	cookies, err := s.Cookies(ctx)
	if err != nil {
		return model.SessionState{}, model.Wrap(model.KindUnauthenticated, "browser.login", err)
	}
	state := model.SessionState{Cookies: cookies}
	if state.Empty() {
		return model.SessionState{}, model.Errorf(model.KindUnauthenticated, "browser.login", "no cookies after login at %s", form.URL)
	}

	if form.CSRFInput != "" {
		state.CSRFToken = s.csrfToken(ctx, form.CSRFInput)
	}

	zap.L().Info("browser: login captured session",
		zap.String("url", form.URL),
		zap.Int("cookies", len(cookies)),
		zap.Bool("csrf", state.CSRFToken != ""),
	)
	return state, nil
}

// csrfToken reads the value attribute of the first element matching sel.
// A missing token is not an error; not every page renders one.
func (s *rodSession) csrfToken(ctx context.Context, sel string) string {
	els, err := s.page.Context(ctx).Elements(sel)
	if err != nil || len(els) == 0 {
		return ""
	}
	v, err := els[0].Attribute("value")
	if err != nil || v == nil {
		return ""
	}
	return *v
}
