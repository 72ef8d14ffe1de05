package source

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/vose-cli/internal/classify"
)

// UnknownTitle is used when a block carries no extractable title.
const UnknownTitle = "Unknown Movie"

// Strategy names, in priority order.
const (
	StrategyProfile   = "profile"
	StrategyGeneric   = "generic"
	StrategyParagraph = "paragraph"
)

var genericSelectors = []string{
	"article",
	".movie",
	".pelicula",
	".film",
	"[class*=movie]",
	"[class*=film]",
	"[class*=sesion]",
	"li",
}

var paragraphSelectors = []string{"p", "tr"}

var titleSelectors = []string{"h1", "h2", "h3", "h4", ".title", ".titulo", "[class*=title]", "strong", "a"}

// pageNoise is stripped before extraction.
const pageNoise = "script, style, noscript, nav, header, footer"

// signalRe matches normalized text that looks like part of a film listing.
var signalRe = regexp.MustCompile(`\bvose?\b|\bv\.o\.s|subtitul|doblad|dubbed|version original|castellano|\bvo\b|pelicula|\bmovie|\bfilm|cartelera|sesion`)

// Block is one listing fragment pulled from a page.
type Block struct {
	Title string
	Text  string
	Times []classify.ClockTime
}

// Extraction is the outcome of parsing one page.
type Extraction struct {
	Strategy string
	Selector string
	Blocks   []Block
}

// Extract parses body and returns the blocks of the first strategy whose
// elements look like film listings. profileSelectors are tried first.
func Extract(body []byte, profileSelectors []string, titleSelector string) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "source: parse html")
	}
	doc.Find(pageNoise).Remove()

	strategies := []struct {
		name      string
		selectors []string
	}{
		{StrategyProfile, profileSelectors},
		{StrategyGeneric, genericSelectors},
		{StrategyParagraph, paragraphSelectors},
	}

	for _, st := range strategies {
		for _, sel := range st.selectors {
			blocks := collect(doc, sel, titleSelector)
			if !anySignal(blocks) {
				continue
			}
			return &Extraction{Strategy: st.name, Selector: sel, Blocks: blocks}, nil
		}
	}
	return &Extraction{}, nil
}

func collect(doc *goquery.Document, selector, titleSelector string) []Block {
	var blocks []Block
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		text := nodeText(s)
		if text == "" {
			return
		}
		blocks = append(blocks, Block{
			Title: blockTitle(s, titleSelector),
			Text:  text,
			Times: classify.FindTimes(text),
		})
	})
	return blocks
}

func anySignal(blocks []Block) bool {
	for _, b := range blocks {
		if len(b.Times) > 0 || signalRe.MatchString(classify.Normalize(b.Text)) {
			return true
		}
	}
	return false
}

// nodeText joins the text nodes under s with single spaces so that
// adjacent elements like <h3>Anora</h3><span>20:30</span> stay separable.
func nodeText(s *goquery.Selection) string {
	var parts []string
	var walk func(*goquery.Selection)
	walk = func(sel *goquery.Selection) {
		sel.Contents().Each(func(_ int, c *goquery.Selection) {
			if goquery.NodeName(c) == "#text" {
				if t := strings.TrimSpace(c.Text()); t != "" {
					parts = append(parts, t)
				}
				return
			}
			walk(c)
		})
	}
	walk(s)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func blockTitle(s *goquery.Selection, titleSelector string) string {
	candidates := titleSelectors
	if titleSelector != "" {
		candidates = append([]string{titleSelector}, titleSelectors...)
	}
	for _, sel := range candidates {
		var title string
		s.Find(sel).EachWithBreak(func(_ int, el *goquery.Selection) bool {
			if t := cleanTitle(nodeText(el)); t != "" {
				title = t
				return false
			}
			return true
		})
		if title != "" {
			return title
		}
	}
	if t, ok := s.Attr("data-title"); ok {
		if t = cleanTitle(t); t != "" {
			return t
		}
	}
	return UnknownTitle
}

// cleanTitle drops headings that are only times or formatting tags.
func cleanTitle(t string) string {
	t = strings.TrimSpace(t)
	if t == "" || len(classify.FindTimes(t)) > 0 && !hasLetters(strings.Trim(t, "0123456789:.hH ")) {
		return ""
	}
	for _, sep := range []string{" - ", " | ", " · "} {
		if i := strings.Index(t, sep); i > 0 {
			head := strings.TrimSpace(t[:i])
			if hasLetters(head) {
				t = head
				break
			}
		}
	}
	return t
}

func hasLetters(s string) bool {
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127 {
			return true
		}
	}
	return false
}
