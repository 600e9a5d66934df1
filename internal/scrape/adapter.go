package scrape

import (
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Adapter holds the site-specific locators the extractor drives.
type Adapter struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"` // label stored on Responses
	Site   string `yaml:"site"`   // account pool scope

	// Search: either SearchURL (with a {query} placeholder) or EntryURL
	// plus SearchInput.
	EntryURL     string `yaml:"entry_url"`
	SearchURL    string `yaml:"search_url"`
	SearchInput  string `yaml:"search_input"`
	SearchSubmit string `yaml:"search_submit"`

	ResultLinks  string   `yaml:"result_links"`
	Primary      string   `yaml:"primary"`
	Fallback     string   `yaml:"fallback"`
	ExcludePaths []string `yaml:"exclude_paths"`

	// LoggedInSelector must match on the entry page of a signed-in session.
	LoggedInSelector  string `yaml:"logged_in_selector"`
	ChallengeSelector string `yaml:"challenge_selector"`

	Login LoginSelectors `yaml:"login"`
}

// LoginSelectors locate the out-of-band sign-in form.
type LoginSelectors struct {
	URL           string `yaml:"url"`
	IdentityInput string `yaml:"identity_input"`
	PasswordInput string `yaml:"password_input"`
	Submit        string `yaml:"submit"`
	CSRFInput     string `yaml:"csrf_input"`
}

// StackOverflow drives stackoverflow.com search and answer pages.
var StackOverflow = Adapter{
	Name:              "stackoverflow",
	Source:            "Stack Overflow",
	Site:              "https://stackoverflow.com/",
	EntryURL:          "https://stackoverflow.com/",
	SearchInput:       `input[name="q"]`,
	ResultLinks:       ".s-post-summary--content h3 a",
	Primary:           ".answercell .s-prose",
	Fallback:          ".answer",
	LoggedInSelector:  `input[name="fkey"]`,
	ChallengeSelector: "#challenge-form, .g-recaptcha, iframe[src*='captcha']",
	Login: LoginSelectors{
		URL:           "https://stackoverflow.com/users/login",
		IdentityInput: "#email",
		PasswordInput: "#password",
		Submit:        "#submit-button",
		CSRFInput:     `input[name="fkey"]`,
	},
}

// Quora drives quora.com search and answer pages.
var Quora = Adapter{
	Name:              "quora",
	Source:            "Quora",
	Site:              "https://www.quora.com/",
	EntryURL:          "https://www.quora.com/",
	SearchInput:       `input[placeholder='Search Quora']`,
	SearchSubmit:      `div[role='option']`,
	ResultLinks:       "#mainContent > div > div > div:nth-child(2) > div > span > a",
	Primary:           ".q-box.spacing_log_answer_content.puppeteer_test_answer_content > div > div > div",
	Fallback:          ".q-text > span > span",
	ExcludePaths:      []string{"/profile/*", "/topic/*"},
	ChallengeSelector: "#challenge-form, .g-recaptcha",
	Login: LoginSelectors{
		URL:           "https://www.quora.com/",
		IdentityInput: "#email",
		PasswordInput: "#password",
		Submit:        "button[type='button'].q-click-wrapper",
	},
}

// BuiltinAdapters returns the adapters compiled into the binary, keyed by name.
func BuiltinAdapters() map[string]Adapter {
	return map[string]Adapter{
		StackOverflow.Name: StackOverflow,
		Quora.Name:         Quora,
	}
}

type adapterFile struct {
	Adapters []Adapter `yaml:"adapters"`
}

// LoadAdapters returns the built-in adapters overlaid with those in path.
// A file adapter with a built-in name replaces it. An empty path returns
// the built-ins.
func LoadAdapters(path string) (map[string]Adapter, error) {
	out := BuiltinAdapters()
	if path == "" {
		return out, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "scrape: read adapters file %s", path)
	}

	var f adapterFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "scrape: parse adapters file %s", path)
	}

	for _, a := range f.Adapters {
		if err := a.Validate(); err != nil {
			return nil, eris.Wrapf(err, "scrape: adapters file %s", path)
		}
		out[a.Name] = a
	}
	return out, nil
}

// Names returns the adapter names in sorted order.
func Names(adapters map[string]Adapter) []string {
	names := make([]string, 0, len(adapters))
	for n := range adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the adapter can drive a search.
func (a Adapter) Validate() error {
	var problems []string
	if a.Name == "" {
		problems = append(problems, "name is required")
	}
	if a.Site == "" {
		problems = append(problems, "site is required")
	}
	if a.SearchURL == "" && (a.EntryURL == "" || a.SearchInput == "") {
		problems = append(problems, "search_url or entry_url with search_input is required")
	}
	if a.SearchURL != "" && !strings.Contains(a.SearchURL, "{query}") {
		problems = append(problems, "search_url must contain {query}")
	}
	if a.ResultLinks == "" {
		problems = append(problems, "result_links is required")
	}
	if a.Primary == "" {
		problems = append(problems, "primary is required")
	}
	if len(problems) > 0 {
		return eris.Errorf("adapter %q: %s", a.Name, strings.Join(problems, "; "))
	}
	return nil
}

// SourceLabel is the value stored in Response.Source.
func (a Adapter) SourceLabel() string {
	if a.Source != "" {
		return a.Source
	}
	return a.Name
}

// SearchPage returns the search results URL for query, or "" when the
// adapter searches through the entry page form.
func (a Adapter) SearchPage(query string) string {
	if a.SearchURL == "" {
		return ""
	}
	return strings.ReplaceAll(a.SearchURL, "{query}", url.QueryEscape(query))
}
