package registry

import "github.com/sells-group/vose-cli/internal/model"

func builtinProfiles() []Profile {
	return []Profile{
		{
			ID:          model.SourceCineCiutat,
			Name:        "CineCiutat",
			CinemaName:  "CineCiutat Palma",
			URL:         "https://cineciutat.org/es/cartelera",
			Pattern:     `cine\s?ciutat`,
			Tier:        TierSpecialist,
			Reliability: 0.95,
			VOSEMarkers: []string{`\bv\.?o\.?s\.?e?\b`, `versio original`},
			Selectors:   []string{".film-entry", ".cartelera-item", ".pelicula"},
			MinDelayMs:  1000,
			Region:      "mallorca",
			Location:    "Europe/Madrid",
		},
		{
			ID:          model.SourceAficine,
			Name:        "Aficine",
			CinemaName:  "Aficine Rivoli",
			URL:         "https://www.aficine.com/cartelera/",
			Pattern:     `aficine|rivoli|augusta`,
			Tier:        TierFrequent,
			Reliability: 0.85,
			VOSEMarkers: []string{`\bversion original\b`, `\(vose\)`},
			Selectors:   []string{".cartelera .pelicula", ".movie-card"},
			MinDelayMs:  1000,
			Region:      "mallorca",
			Location:    "Europe/Madrid",
		},
		{
			ID:          model.SourceOcimax,
			Name:        "Ocimax",
			CinemaName:  "Ocimax Palma",
			URL:         "https://www.ocimax.es/cartelera",
			Pattern:     `ocimax`,
			Tier:        TierFrequent,
			Reliability: 0.8,
			VOSEMarkers: []string{`\bvose\b`},
			Selectors:   []string{".movie-item", ".sesiones"},
			MinDelayMs:  1000,
			Region:      "mallorca",
			Location:    "Europe/Madrid",
		},
		{
			ID:          model.SourceCinesa,
			Name:        "Cinesa",
			CinemaName:  "Cinesa Festival Park",
			URL:         "https://www.cinesa.es/cines/festival-park",
			Pattern:     `cinesa`,
			Tier:        TierRare,
			Reliability: 0.7,
			Selectors:   []string{".movie-card", ".film-showtimes"},
			MinDelayMs:  2000,
			Region:      "mallorca",
			Location:    "Europe/Madrid",
		},
		{
			ID:          model.SourceYelmo,
			Name:        "Yelmo",
			CinemaName:  "Yelmo Cines Mallorca Fan",
			URL:         "https://yelmocines.es/cartelera/mallorca",
			Pattern:     `yelmo`,
			Tier:        TierRare,
			Reliability: 0.65,
			Selectors:   []string{".movie-block", ".showtimes-movie"},
			MinDelayMs:  2000,
			Region:      "mallorca",
			Location:    "Europe/Madrid",
		},
	}
}
