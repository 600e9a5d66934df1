package scrape

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BlockType describes the kind of challenge detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockSelector   BlockType = "selector"
)

// DetectChallenge checks a rendered page for an anti-bot challenge. sel is
// the adapter's challenge selector and may be empty.
func DetectChallenge(html, sel string) (bool, BlockType) {
	if html == "" {
		return false, BlockNone
	}

	if sel != "" {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(html)); err == nil {
			if doc.Find(sel).Length() > 0 {
				return true, BlockSelector
			}
		}
	}

	lower := strings.ToLower(html)

	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cf-challenge") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	if strings.Contains(lower, "g-recaptcha") ||
		strings.Contains(lower, "h-captcha") ||
		strings.Contains(lower, "hcaptcha.com") ||
		strings.Contains(lower, "captcha-container") ||
		strings.Contains(lower, "are you a robot") ||
		strings.Contains(lower, "human verification") {
		return true, BlockCaptcha
	}

	return false, BlockNone
}
