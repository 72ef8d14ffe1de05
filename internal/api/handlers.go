package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/vose-cli/internal/classify"
	"github.com/sells-group/vose-cli/internal/model"
	"github.com/sells-group/vose-cli/internal/validate"
)

type scrapeRequest struct {
	Sources []string `json:"sources"`
}

type detectRequest struct {
	Text      string         `json:"text"`
	Title     string         `json:"title"`
	URL       string         `json:"url"`
	Source    model.SourceID `json:"source"`
	StartTime *time.Time     `json:"start_time"`
}

type validateRequest struct {
	Showtimes []model.Showtime `json:"showtimes"`
	Dedupe    bool             `json:"dedupe"`
}

type validateResponse struct {
	Showtimes []model.Showtime       `json:"showtimes"`
	Report    model.ValidationReport `json:"report"`
	Removed   int                    `json:"removed,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	if s.opts.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "scraping is not configured")
		return
	}

	var req scrapeRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sources := model.ParseSourceIDs(req.Sources)
	known := s.opts.Runner.Sources()
	var unknown []string
	for _, id := range sources {
		if !slices.Contains(known, id) {
			unknown = append(unknown, string(id))
		}
	}
	if len(unknown) > 0 {
		writeError(w, http.StatusBadRequest, "unknown sources: "+strings.Join(unknown, ", "))
		return
	}

	result := s.opts.Runner.Run(r.Context(), sources)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.opts.Collector == nil {
		writeError(w, http.StatusServiceUnavailable, "status is not configured")
		return
	}
	snap, err := s.opts.Collector.Collect(r.Context(), s.opts.LookbackRuns)
	if err != nil {
		zap.L().Error("api: collect status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	in := classify.Input{Text: req.Text, Title: req.Title, URL: req.URL, Source: req.Source}
	if req.StartTime != nil {
		in.StartTime = *req.StartTime
	}
	writeJSON(w, http.StatusOK, s.opts.Detector.Detect(in))
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	out, report := s.opts.Engine.Validate(req.Showtimes)
	if out == nil {
		out = []model.Showtime{}
	}
	resp := validateResponse{Showtimes: out, Report: report}
	if req.Dedupe {
		kept := validate.Dedupe(out, s.opts.Engine.Settings().DuplicateWindow)
		resp.Removed = len(out) - len(kept)
		resp.Showtimes = kept
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeBody reads a JSON body. When optional is set an empty body leaves
// dst untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
