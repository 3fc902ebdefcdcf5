package server

import (
	"io"
	"log/slog"
	"net/http"
)

// handleSubmit accepts a task request and runs it through the pipeline
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	resp, err := s.fulfiller.Submit(r.Context(), body)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleReport records a publication reported by a third party
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}

	ack, err := s.fulfiller.Report(r.Context(), body)
	if err != nil {
		s.errorResponse(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ack)
}

// handleHealth is the liveness probe
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

// errorResponse writes the JSON failure body for err
func (s *Server) errorResponse(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	s.jsonResponse(w, status, body)
}
