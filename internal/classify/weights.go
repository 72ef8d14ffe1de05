package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Kind says which language signal a category carries.
type Kind int

// Category kinds.
const (
	KindVOSE Kind = iota
	KindDubbed
	KindCatalan
)

// Category is one row of the indicator table. Patterns run against
// normalized text.
type Category struct {
	Name     string
	Kind     Kind
	Weight   float64
	Patterns []string
	// Suppressible matches near subtitle context count at SuppressedFactor
	// and are reported as language context rather than dubbing.
	Suppressible bool

	res []*regexp.Regexp
}

// Weights holds every tunable number of the detector.
type Weights struct {
	Categories []Category

	// Per-category diminishing returns.
	RepeatFactor float64
	CategoryCap  float64

	SuppressedFactor float64
	SuppressWindow   int

	MarkerBonus float64

	EveningBonus     float64
	MatineeBonus     float64
	AfternoonPenalty float64

	RegionBonus       float64
	Regions           []string
	TitleEnglishBonus float64
	TitleForeignBonus float64

	ConflictRatio   float64
	ConflictShift   float64
	AmbiguityFactor float64

	Steepness       float64
	Midpoint        float64
	BoostFactor     float64
	BoostIndicators int
	NeutralMin      float64
	NeutralMax      float64

	Threshold         float64
	LanguageThreshold float64

	subtitleRe *regexp.Regexp
	regionRe   *regexp.Regexp
}

var subtitleContext = `subtitul|subtitl|subtitol|\bsubs\b|\bv\.?o\.?s`

// DefaultWeights returns the built-in calibration.
func DefaultWeights() *Weights {
	w := &Weights{
		Categories: []Category{
			{
				Name: "vose_explicit", Kind: KindVOSE, Weight: 0.9,
				Patterns: []string{`\bv\.?o\.?s\.?e\b`, `\bv\.?o\.?s\.?c\b`, `\bv\.o\.s\b`, `\bvos\b`, `\bvosub\b`},
			},
			{
				Name: "original_version", Kind: KindVOSE, Weight: 0.8,
				Patterns: []string{`\bversion original\b`, `\bversio original\b`, `\boriginal version\b`, `\bidioma original\b`, `\bv\.?o\b`},
			},
			{
				Name: "english_subtitles", Kind: KindVOSE, Weight: 0.7,
				Patterns: []string{
					`\benglish with (spanish )?subtitles\b`, `\bin english\b`, `\bingles con subtitulos\b`,
					`\bsubtitulos en (castellano|espanol)\b`, `\bsubtitulad[ao] en (castellano|espanol)\b`,
					`\benglish subtitles\b`,
				},
			},
			{
				Name: "subtitled", Kind: KindVOSE, Weight: 0.6,
				Patterns: []string{`\bsubtitulad[ao]s?\b`, `\bsubtitulos?\b`, `\bsubtitled\b`, `\bsubtitles\b`, `\bsubtitols?\b`, `\baudio original\b`},
			},
			{
				Name: "weak_original", Kind: KindVOSE, Weight: 0.3,
				Patterns: []string{`\benglish\b`, `\boriginal\b`, `\bingles\b`},
			},
			{
				Name: "dubbed_explicit", Kind: KindDubbed, Weight: -0.9,
				Patterns: []string{
					`\bdoblad[ao] al (espanol|castellano)\b`, `\bversion doblada\b`,
					`\bdubbed (in|into) spanish\b`, `\bversion (espanola|castellana)\b`,
				},
			},
			{
				Name: "dubbed", Kind: KindDubbed, Weight: -0.7,
				Patterns: []string{`\bdoblad[ao]s?\b`, `\bdubbed\b`, `\bdoblaje\b`},
			},
			{
				Name: "castellano", Kind: KindDubbed, Weight: -0.7, Suppressible: true,
				Patterns: []string{`\bcastellano\b`},
			},
			{
				Name: "spanish", Kind: KindDubbed, Weight: -0.4, Suppressible: true,
				Patterns: []string{`\bespanol\b`, `\bspanish\b`},
			},
			{
				Name: "catalan", Kind: KindCatalan, Weight: -0.5, Suppressible: true,
				Patterns: []string{`\bversio catalana\b`, `\bdoblat al catala\b`, `\bcatala\b`, `\bcatalan\b`},
			},
		},

		RepeatFactor: 0.25,
		CategoryCap:  1.5,

		SuppressedFactor: 0.25,
		SuppressWindow:   30,

		MarkerBonus: 0.2,

		EveningBonus:     0.15,
		MatineeBonus:     0.15,
		AfternoonPenalty: -0.1,

		RegionBonus: 0.1,
		Regions: []string{
			"mallorca", "palma", "ibiza", "eivissa", "menorca", "marbella", "malaga",
			"benidorm", "alicante", "torrevieja", "tenerife", "lanzarote",
			"gran canaria", "fuerteventura", "costa del sol", "costa blanca",
		},
		TitleEnglishBonus: 0.1,
		TitleForeignBonus: 0.1,

		ConflictRatio:   1.5,
		ConflictShift:   0.2,
		AmbiguityFactor: 0.85,

		Steepness:       3,
		Midpoint:        0.3,
		BoostFactor:     1.1,
		BoostIndicators: 3,
		NeutralMin:      0.2,
		NeutralMax:      0.5,

		Threshold:         0.6,
		LanguageThreshold: 0.7,
	}
	if err := w.compile(); err != nil {
		panic(err)
	}
	return w
}

func (w *Weights) compile() error {
	for i := range w.Categories {
		c := &w.Categories[i]
		c.res = c.res[:0]
		for _, p := range c.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return eris.Wrapf(err, "classify: compile pattern %q in %s", p, c.Name)
			}
			c.res = append(c.res, re)
		}
	}
	w.subtitleRe = regexp.MustCompile(subtitleContext)

	quoted := make([]string, 0, len(w.Regions))
	for _, r := range w.Regions {
		quoted = append(quoted, regexp.QuoteMeta(Normalize(r)))
	}
	w.regionRe = nil
	if len(quoted) > 0 {
		w.regionRe = regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b`)
	}
	return nil
}

// Validate checks that the calibration is internally consistent.
func (w *Weights) Validate() error {
	var errs []string
	for _, c := range w.Categories {
		switch {
		case c.Kind == KindVOSE && c.Weight <= 0:
			errs = append(errs, fmt.Sprintf("%s weight must be > 0", c.Name))
		case c.Kind != KindVOSE && c.Weight >= 0:
			errs = append(errs, fmt.Sprintf("%s weight must be < 0", c.Name))
		}
	}
	if w.Steepness <= 0 {
		errs = append(errs, "steepness must be > 0")
	}
	if w.ConflictRatio < 1 {
		errs = append(errs, "conflict_ratio must be >= 1")
	}
	if w.Threshold <= 0 || w.Threshold >= 1 {
		errs = append(errs, "threshold must be in (0, 1)")
	}
	if w.NeutralMin > w.NeutralMax {
		errs = append(errs, "neutral_min must be <= neutral_max")
	}
	if len(errs) > 0 {
		return eris.New("classify: invalid weights: " + strings.Join(errs, "; "))
	}
	return nil
}

// WeightsFile is the YAML override shape. Unset fields keep the defaults.
type WeightsFile struct {
	Categories    map[string]float64 `yaml:"categories"`
	Steepness     *float64           `yaml:"steepness"`
	Midpoint      *float64           `yaml:"midpoint"`
	ConflictRatio *float64           `yaml:"conflict_ratio"`
	Threshold     *float64           `yaml:"threshold"`
	Regions       []string           `yaml:"regions"`
}

// LoadWeights returns the default weights with overrides from a YAML file
// applied. An empty path returns the defaults.
func LoadWeights(path string) (*Weights, error) {
	w := DefaultWeights()
	if path == "" {
		return w, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "classify: read weights file")
	}
	var f WeightsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "classify: parse weights file")
	}
	if err := w.Apply(f); err != nil {
		return nil, err
	}
	return w, nil
}

// Apply overlays overrides and recompiles derived patterns.
func (w *Weights) Apply(f WeightsFile) error {
	for name, weight := range f.Categories {
		found := false
		for i := range w.Categories {
			if w.Categories[i].Name == name {
				w.Categories[i].Weight = weight
				found = true
			}
		}
		if !found {
			return eris.Errorf("classify: unknown category %q", name)
		}
	}
	if f.Steepness != nil {
		w.Steepness = *f.Steepness
	}
	if f.Midpoint != nil {
		w.Midpoint = *f.Midpoint
	}
	if f.ConflictRatio != nil {
		w.ConflictRatio = *f.ConflictRatio
	}
	if f.Threshold != nil {
		w.Threshold = *f.Threshold
	}
	if len(f.Regions) > 0 {
		w.Regions = f.Regions
	}
	if err := w.Validate(); err != nil {
		return err
	}
	return w.compile()
}
