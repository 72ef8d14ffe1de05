package model

import (
	"strings"
	"time"
)

// Language is the audio/subtitle classification of a screening.
type Language string

const (
	LanguageVOSE    Language = "VOSE"
	LanguageSpanish Language = "Spanish"
	LanguageCatalan Language = "Catalan"
	LanguageOther   Language = "Other"
	LanguageUnknown Language = "Unknown"
)

// VerificationStatus tracks where a showtime is in the audit lifecycle.
type VerificationStatus string

const (
	StatusPending   VerificationStatus = "pending"
	StatusConfirmed VerificationStatus = "confirmed"
	StatusRejected  VerificationStatus = "rejected"
	StatusExpired   VerificationStatus = "expired"
)

// SourceID identifies the source adapter that produced a record.
type SourceID string

const (
	SourceCineCiutat SourceID = "cineciutat"
	SourceAficine    SourceID = "aficine"
	SourceOcimax     SourceID = "ocimax"
	SourceCinesa     SourceID = "cinesa"
	SourceYelmo      SourceID = "yelmo"
	SourceUnknown    SourceID = ""
)

// ParseSourceIDs converts raw identifiers (CLI flags, request bodies) into
// SourceIDs, lowercasing and dropping blanks.
func ParseSourceIDs(raw []string) []SourceID {
	var out []SourceID
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			p := strings.ToLower(strings.TrimSpace(part))
			if p == "" {
				continue
			}
			out = append(out, SourceID(p))
		}
	}
	return out
}

// Showtime is one scraped screening. Until validated it is a candidate.
type Showtime struct {
	MovieTitle string    `json:"movie_title"`
	CinemaName string    `json:"cinema_name"`
	StartTime  time.Time `json:"start_time"`
	Language   Language  `json:"language"`
	IsVOSE     bool      `json:"is_vose"`

	// Confidence only ever decreases after classification.
	Confidence float64 `json:"confidence"`
	// ClassifierConfidence is the detector's own score; validation
	// recomputes its penalties against it so repeated passes don't stack.
	ClassifierConfidence float64 `json:"classifier_confidence"`

	SourceID           SourceID           `json:"source_id"`
	RawText            string             `json:"raw_text"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	ScrapedAt          time.Time          `json:"scraped_at"`

	// Enrichment is attached by external collaborators and is opaque here.
	Enrichment map[string]any `json:"enrichment,omitempty"`
}

// BaseConfidence returns the classifier confidence, falling back to the
// current confidence for records that were never classified here.
func (s *Showtime) BaseConfidence() float64 {
	if s.ClassifierConfidence > 0 {
		return s.ClassifierConfidence
	}
	return s.Confidence
}
