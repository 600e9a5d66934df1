package scrape

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/qa-scraper/internal/browser"
	"github.com/sells-group/qa-scraper/internal/model"
)

// fakeSession serves canned HTML per URL.
type fakeSession struct {
	mu sync.Mutex

	pages      map[string]string // url -> html
	navErrs    map[string]error
	results    string // html shown after Search
	resultsURL string
	searchErr  error
	// afterWait replaces the results page once the captcha wait has run.
	afterWait string

	current  string
	html     string
	searched []string
	visited  []string
	closed   bool
	onVisit  func(url string)
}

func (s *fakeSession) Navigate(_ context.Context, rawURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited = append(s.visited, rawURL)
	if s.onVisit != nil {
		s.onVisit(rawURL)
	}
	if err, ok := s.navErrs[rawURL]; ok {
		return model.Wrap(model.KindNavigation, "browser.navigate", err)
	}
	s.current = rawURL
	s.html = s.pages[rawURL]
	return nil
}

func (s *fakeSession) Search(_ context.Context, _, _ string, query string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return s.searchErr
	}
	s.searched = append(s.searched, query)
	s.current = s.resultsURL
	s.html = s.results
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.html, nil
}

func (s *fakeSession) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *fakeSession) Cookies(context.Context) ([]model.Cookie, error) { return nil, nil }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) clearChallenge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.afterWait != "" {
		s.html = s.afterWait
	}
}

type fakeOpener struct {
	sess   *fakeSession
	err    error
	opened int
}

func (o *fakeOpener) Open(_ context.Context, acct *model.Account) (browser.Session, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	if acct.SessionState.Empty() {
		return nil, model.Errorf(model.KindUnauthenticated, "browser.open", "no session")
	}
	return o.sess, nil
}

type fakeAccounts struct {
	accts []model.Account
	next  int
	sites []string
}

func (a *fakeAccounts) Acquire(_ context.Context, site string) (*model.Account, error) {
	a.sites = append(a.sites, site)
	if len(a.accts) == 0 {
		return nil, model.Errorf(model.KindNoAccountsAvailable, "accounts.acquire", "no accounts for %s", site)
	}
	acct := a.accts[a.next%len(a.accts)]
	a.next++
	return &acct, nil
}

func signedIn() *fakeAccounts {
	return &fakeAccounts{accts: []model.Account{{
		ID: "a1", Site: "https://qa.test/", Identity: "dev",
		SessionState: model.SessionState{Cookies: []model.Cookie{{Name: "sid", Value: "1"}}},
	}}}
}

// memorySink records saves and validates like the real sink.
type memorySink struct {
	mu     sync.Mutex
	saved  []model.Response
	failOn map[string]bool
}

func (m *memorySink) Save(_ context.Context, questionID, source, content, url string) (*model.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if strings.TrimSpace(content) == "" || strings.TrimSpace(url) == "" {
		return nil, model.Errorf(model.KindValidation, "sink.save", "empty content or url")
	}
	if m.failOn[url] {
		return nil, model.Wrap(model.KindStorage, "sink.save", eris.New("database is locked"))
	}
	r := model.Response{
		ID:         fmt.Sprintf("r%d", len(m.saved)+1),
		QuestionID: questionID,
		Source:     source,
		Content:    content,
		URL:        url,
		ScrapedAt:  time.Now().UTC(),
	}
	m.saved = append(m.saved, r)
	return &r, nil
}

// testAdapter searches through an entry page form and requires a
// signed-in marker.
var testAdapter = Adapter{
	Name:              "qa",
	Source:            "QA Test",
	Site:              "https://qa.test/",
	EntryURL:          "https://qa.test/",
	SearchInput:       `input[name="q"]`,
	ResultLinks:       ".results a.hit",
	Primary:           ".answer .body",
	Fallback:          ".answer",
	LoggedInSelector:  "#user-menu",
	ChallengeSelector: "#challenge-form",
}

const entryPage = `<html><body><div id="user-menu">dev</div><input name="q"></body></html>`

func resultsPage(hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="results">`)
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a class="hit" href="%s">hit</a>`, h)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func primaryPage(text string) string {
	return `<html><body><div class="answer"><div class="body">` + text + `</div></div></body></html>`
}

func fallbackOnlyPage(text string) string {
	return `<html><body><div class="answer"><div class="body">   </div>` + text + `</div></body></html>`
}

const emptyPage = `<html><body><div class="question">no answers yet</div></body></html>`

func newSession(results string, pages map[string]string) *fakeSession {
	all := map[string]string{"https://qa.test/": entryPage}
	for k, v := range pages {
		all[k] = v
	}
	return &fakeSession{
		pages:      all,
		navErrs:    map[string]error{},
		results:    results,
		resultsURL: "https://qa.test/search?q=x",
	}
}

func noSleep(context.Context, time.Duration) error { return nil }
