package scrape

import (
	"net/http"
	"strings"
)

// BlockType names the kind of page returned instead of a listing.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockJSShell    BlockType = "js_shell"
	BlockRegion     BlockType = "region"
)

// shellBodyLimit is the size below which a page that only asks for
// JavaScript is treated as an empty application shell.
const shellBodyLimit = 2000

type blockMarkers struct {
	kind    BlockType
	phrases []string
}

// bodyMarkers are checked in order against the lowercased body.
var bodyMarkers = []blockMarkers{
	{BlockCloudflare, []string{
		"checking your browser",
		"cf-browser-verification",
		"attention required! | cloudflare",
		"just a moment...",
	}},
	{BlockCaptcha, []string{"captcha"}},
	{BlockRegion, []string{
		"not available in your region",
		"not available in your country",
		"unavailable in your region",
		"no disponible en tu region",
		"no disponible en tu región",
		"no disponible en su region",
		"no disponible en su región",
		"no disponible en tu país",
		"no disponible en tu pais",
	}},
}

// DetectBlock reports whether a cinema site answered with an anti-bot
// challenge, a captcha, a geo-restriction notice or a JavaScript-only
// shell instead of its listing.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable) && behindCloudflare(resp.Header) {
		return true, BlockCloudflare
	}

	lower := strings.ToLower(string(body))
	for _, m := range bodyMarkers {
		for _, p := range m.phrases {
			if strings.Contains(lower, p) {
				return true, m.kind
			}
		}
	}

	if len(body) < shellBodyLimit {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, `http-equiv="refresh"`) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}

func behindCloudflare(h http.Header) bool {
	return h.Get("Cf-Ray") != "" || h.Get("Cf-Cache-Status") != "" || strings.EqualFold(h.Get("Server"), "cloudflare")
}
