// Package registry holds the per-source configuration table. Each profile
// says where a cinema publishes its listings and how much the source itself
// says about a showing being VOSE.
package registry

import (
	"regexp"
	"slices"
	"strings"
	"time"
	_ "time/tzdata" // listings are parsed in Europe/Madrid on hosts without zoneinfo

	"github.com/rotisserie/eris"

	"github.com/sells-group/vose-cli/internal/model"
)

// Tier describes how often a source programs original-version showings.
type Tier string

// Source tiers.
const (
	TierSpecialist Tier = "specialist"
	TierFrequent   Tier = "frequent"
	TierRare       Tier = "rare"
)

// DefaultBonus returns the classifier bonus for a tier.
func (t Tier) DefaultBonus() float64 {
	switch t {
	case TierSpecialist:
		return 0.8
	case TierFrequent:
		return 0.3
	case TierRare:
		return -0.2
	default:
		return 0
	}
}

const (
	// DefaultReliability is the prior used for sources without a profile.
	DefaultReliability = 0.6
	// DefaultMinDelay is the minimum gap between requests to one source.
	DefaultMinDelay = 1 * time.Second
	// DefaultLocation is the time zone listings are published in.
	DefaultLocation = "Europe/Madrid"
)

// Profile is the configuration record for one cinema source.
type Profile struct {
	ID            model.SourceID `yaml:"id" json:"id"`
	Name          string         `yaml:"name" json:"name"`
	CinemaName    string         `yaml:"cinema_name" json:"cinema_name"`
	URL           string         `yaml:"url" json:"url"`
	Pattern       string         `yaml:"pattern" json:"pattern"`
	Tier          Tier           `yaml:"tier" json:"tier"`
	Bonus         *float64       `yaml:"bonus,omitempty" json:"bonus,omitempty"`
	Reliability   float64        `yaml:"reliability" json:"reliability"`
	VOSEMarkers   []string       `yaml:"vose_markers" json:"vose_markers,omitempty"`
	Selectors     []string       `yaml:"selectors" json:"selectors,omitempty"`
	TitleSelector string         `yaml:"title_selector" json:"title_selector,omitempty"`
	MinDelayMs    int            `yaml:"min_delay_ms" json:"min_delay_ms"`
	Region        string         `yaml:"region" json:"region"`
	Location      string         `yaml:"location" json:"location"`
	Disabled      bool           `yaml:"disabled" json:"disabled,omitempty"`

	pattern *regexp.Regexp
	markers []*regexp.Regexp
}

// VOSEBonus returns the configured bonus, falling back to the tier default.
func (p *Profile) VOSEBonus() float64 {
	if p.Bonus != nil {
		return *p.Bonus
	}
	return p.Tier.DefaultBonus()
}

// MinDelay returns the minimum delay between consecutive requests.
func (p *Profile) MinDelay() time.Duration {
	if p.MinDelayMs <= 0 {
		return DefaultMinDelay
	}
	return time.Duration(p.MinDelayMs) * time.Millisecond
}

// TimeLocation resolves the profile's IANA zone. Unknown zones fall back
// to Europe/Madrid and then UTC.
func (p *Profile) TimeLocation() *time.Location {
	name := p.Location
	if name == "" {
		name = DefaultLocation
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	if loc, err := time.LoadLocation(DefaultLocation); err == nil {
		return loc
	}
	return time.UTC
}

// Matches reports whether text or a URL identifies this source.
func (p *Profile) Matches(s string) bool {
	return p.pattern != nil && p.pattern.MatchString(s)
}

// MarkerHit is one occurrence of a source-specific VOSE marker.
type MarkerHit struct {
	Marker int
	Text   string
	Start  int
	End    int
}

// MarkerHits returns every occurrence of the profile's VOSE markers in
// normalized text, grouped by marker in declaration order.
func (p *Profile) MarkerHits(text string) []MarkerHit {
	var hits []MarkerHit
	for i, re := range p.markers {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			hits = append(hits, MarkerHit{Marker: i, Text: text[loc[0]:loc[1]], Start: loc[0], End: loc[1]})
		}
	}
	return hits
}

func (p *Profile) compile() error {
	if p.ID == "" {
		return eris.New("registry: profile id is required")
	}
	if p.Pattern != "" {
		re, err := regexp.Compile("(?i)" + p.Pattern)
		if err != nil {
			return eris.Wrapf(err, "registry: compile pattern for %s", p.ID)
		}
		p.pattern = re
	}
	p.markers = p.markers[:0]
	for _, m := range p.VOSEMarkers {
		re, err := regexp.Compile("(?i)" + m)
		if err != nil {
			return eris.Wrapf(err, "registry: compile vose marker for %s", p.ID)
		}
		p.markers = append(p.markers, re)
	}
	if p.Reliability <= 0 {
		p.Reliability = DefaultReliability
	}
	if p.Name == "" {
		p.Name = string(p.ID)
	}
	if p.CinemaName == "" {
		p.CinemaName = p.Name
	}
	return nil
}

// Registry is an ordered, immutable set of source profiles.
type Registry struct {
	order    []model.SourceID
	profiles map[model.SourceID]*Profile
}

// New builds a registry, compiling each profile's patterns. Later
// duplicates replace earlier ones in place.
func New(profiles []Profile) (*Registry, error) {
	r := &Registry{profiles: make(map[model.SourceID]*Profile, len(profiles))}
	for i := range profiles {
		p := profiles[i]
		p.ID = model.SourceID(strings.ToLower(string(p.ID)))
		p.VOSEMarkers = slices.Clone(p.VOSEMarkers)
		p.Selectors = slices.Clone(p.Selectors)
		p.markers = nil
		if err := p.compile(); err != nil {
			return nil, err
		}
		if _, exists := r.profiles[p.ID]; !exists {
			r.order = append(r.order, p.ID)
		}
		r.profiles[p.ID] = &p
	}
	return r, nil
}

// Default returns the built-in Mallorca source table.
func Default() *Registry {
	r, err := New(builtinProfiles())
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the profile for id.
func (r *Registry) Get(id model.SourceID) (*Profile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// IDs returns the enabled source IDs in registration order.
func (r *Registry) IDs() []model.SourceID {
	out := make([]model.SourceID, 0, len(r.order))
	for _, id := range r.order {
		if !r.profiles[id].Disabled {
			out = append(out, id)
		}
	}
	return out
}

// All returns every profile in registration order, including disabled ones.
func (r *Registry) All() []*Profile {
	out := make([]*Profile, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.profiles[id])
	}
	return out
}

// Identify finds the first profile whose pattern matches any of the inputs.
func (r *Registry) Identify(inputs ...string) (*Profile, bool) {
	for _, id := range r.order {
		p := r.profiles[id]
		for _, s := range inputs {
			if s != "" && p.Matches(s) {
				return p, true
			}
		}
	}
	return nil, false
}

// Reliability returns the prior reliability of a source.
func (r *Registry) Reliability(id model.SourceID) float64 {
	if p, ok := r.profiles[id]; ok {
		return p.Reliability
	}
	return DefaultReliability
}

// Merge overlays overrides onto the registry and returns a new registry.
// Zero-valued override fields keep the existing value; unknown IDs are
// appended as new sources.
func (r *Registry) Merge(overrides []Profile) (*Registry, error) {
	base := make([]Profile, 0, len(r.order)+len(overrides))
	index := make(map[model.SourceID]int, len(r.order))
	for _, id := range r.order {
		index[id] = len(base)
		base = append(base, *r.profiles[id])
	}
	for _, o := range overrides {
		o.ID = model.SourceID(strings.ToLower(string(o.ID)))
		i, ok := index[o.ID]
		if !ok {
			index[o.ID] = len(base)
			base = append(base, o)
			continue
		}
		base[i] = overlay(base[i], o)
	}
	return New(base)
}

func overlay(p, o Profile) Profile {
	if o.Name != "" {
		p.Name = o.Name
	}
	if o.CinemaName != "" {
		p.CinemaName = o.CinemaName
	}
	if o.URL != "" {
		p.URL = o.URL
	}
	if o.Pattern != "" {
		p.Pattern = o.Pattern
	}
	if o.Tier != "" {
		p.Tier = o.Tier
	}
	if o.Bonus != nil {
		p.Bonus = o.Bonus
	}
	if o.Reliability > 0 {
		p.Reliability = o.Reliability
	}
	if len(o.VOSEMarkers) > 0 {
		p.VOSEMarkers = o.VOSEMarkers
	}
	if len(o.Selectors) > 0 {
		p.Selectors = o.Selectors
	}
	if o.TitleSelector != "" {
		p.TitleSelector = o.TitleSelector
	}
	if o.MinDelayMs > 0 {
		p.MinDelayMs = o.MinDelayMs
	}
	if o.Region != "" {
		p.Region = o.Region
	}
	if o.Location != "" {
		p.Location = o.Location
	}
	if o.Disabled {
		p.Disabled = true
	}
	return p
}

// Filter returns a registry restricted to the given IDs, in the order
// given. Unknown IDs are reported as an error.
func (r *Registry) Filter(ids []model.SourceID) (*Registry, error) {
	if len(ids) == 0 {
		return r, nil
	}
	out := &Registry{profiles: make(map[model.SourceID]*Profile, len(ids))}
	for _, id := range ids {
		p, ok := r.profiles[id]
		if !ok {
			return nil, eris.Errorf("registry: unknown source %q", id)
		}
		if _, dup := out.profiles[id]; dup {
			continue
		}
		cp := *p
		cp.Disabled = false
		out.order = append(out.order, id)
		out.profiles[id] = &cp
	}
	return out, nil
}

func (r *Registry) filterNames(names []string) (*Registry, error) {
	return r.Filter(model.ParseSourceIDs(names))
}
