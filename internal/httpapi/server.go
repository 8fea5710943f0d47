package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/drcokefloat/scanx-brief/internal/brief"
	"github.com/drcokefloat/scanx-brief/internal/jobs"
	"github.com/drcokefloat/scanx-brief/internal/logger"
	"github.com/drcokefloat/scanx-brief/internal/registry"
	"github.com/drcokefloat/scanx-brief/internal/report"
)

const (
	// OwnerHeader carries the caller's identity. Requests without it act as the
	// anonymous owner and only see anonymous briefs.
	OwnerHeader = "X-User-ID"

	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 64 << 10

	modeSimple   = "simple"
	modeAdvanced = "advanced"
)

// Scheduler runs pipeline work off the request path.
type Scheduler interface {
	Submit(name string, job jobs.Job) error
}

// PDFRenderer prints an HTML document.
type PDFRenderer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

type Server struct {
	service *brief.Service
	jobs    Scheduler
	pdf     PDFRenderer
	log     *logger.Logger
}

// NewServer exposes the brief service as a JSON API. pdf may be nil, in which case
// PDF export answers 503.
func NewServer(service *brief.Service, scheduler Scheduler, pdf PDFRenderer, log *logger.Logger) http.Handler {
	s := &Server{
		service: service,
		jobs:    scheduler,
		pdf:     pdf,
		log:     log.With("component", "httpapi"),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/briefs", s.handleCreate)
	mux.HandleFunc("GET /v1/briefs", s.handleList)
	mux.HandleFunc("GET /v1/briefs/{id}", s.handleDashboard)
	mux.HandleFunc("GET /v1/briefs/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /v1/briefs/{id}/refresh", s.handleRefresh)
	mux.HandleFunc("DELETE /v1/briefs/{id}", s.handleDelete)
	mux.HandleFunc("GET /v1/briefs/{id}/report.html", s.handleReportHTML)
	mux.HandleFunc("GET /v1/briefs/{id}/report.pdf", s.handleReportPDF)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

// writeServiceError maps service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *brief.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, "validation", ve.Error())
	case errors.Is(err, registry.ErrNoSearchTerms):
		writeError(w, http.StatusBadRequest, "validation", "condition or intervention is required")
	case errors.Is(err, brief.ErrPermission):
		writeError(w, http.StatusForbidden, "forbidden", "you do not have access to this brief")
	case errors.Is(err, brief.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "brief not found")
	case errors.Is(err, brief.ErrNotRefreshable):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func owner(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OwnerHeader))
}

func parseInt(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func parseBool(value string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(value))
	return b
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type createRequest struct {
	Mode                 string `json:"mode"`
	Topic                string `json:"topic"`
	Condition            string `json:"condition"`
	Intervention         string `json:"intervention"`
	Operator             string `json:"operator"`
	IncludeObservational bool   `json:"include_observational"`
}

// generateRequest resolves a create body into the search term and display topic.
func (req createRequest) generateRequest(ownerID string) (brief.GenerateRequest, error) {
	switch strings.ToLower(strings.TrimSpace(req.Mode)) {
	case "", modeSimple:
		return brief.GenerateRequest{SearchTerm: strings.TrimSpace(req.Topic), OwnerID: ownerID}, nil
	case modeAdvanced:
		q := registry.AdvancedQuery{
			Condition:            req.Condition,
			Intervention:         req.Intervention,
			Operator:             registry.ParseOperator(req.Operator),
			IncludeObservational: req.IncludeObservational,
		}
		term, err := q.BuildQuery()
		if err != nil {
			return brief.GenerateRequest{}, err
		}
		return brief.GenerateRequest{SearchTerm: term, OwnerID: ownerID, DisplayTopic: q.DisplayTopic()}, nil
	default:
		return brief.GenerateRequest{}, &brief.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", req.Mode)}
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid JSON body: "+err.Error())
		return
	}
	greq, err := req.generateRequest(owner(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	b, err := s.service.Create(r.Context(), greq)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/briefs/"+b.ID)

	if parseBool(r.URL.Query().Get("sync")) {
		done, runErr := s.service.Run(r.Context(), b.ID, greq.SearchTerm)
		if done == nil {
			s.writeServiceError(w, r, runErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": runErr == nil, "brief": done})
		return
	}

	searchTerm := greq.SearchTerm
	if err := s.jobs.Submit("generate "+b.ID, func(ctx context.Context) error {
		_, err := s.service.Run(ctx, b.ID, searchTerm)
		return err
	}); err != nil {
		s.log.Error("generation not scheduled", "brief_id", b.ID, "error", err)
		if _, aerr := s.service.Abandon(r.Context(), b.ID, err); aerr != nil {
			s.log.Error("unscheduled brief could not be marked failed", "brief_id", b.ID, "error", aerr)
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "brief": b})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := brief.ListFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		Sort:       strings.TrimSpace(q.Get("sort")),
		ActiveOnly: parseBool(q.Get("active")),
		Limit:      min(max(parseInt(q.Get("limit"), defaultListLimit), 1), maxListLimit),
		Offset:     max(parseInt(q.Get("offset"), 0), 0),
	}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := brief.ParseStatus(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "validation", fmt.Sprintf("unknown status %q", raw))
			return
		}
		f.Status = st
	}
	briefs, total, err := s.service.List(r.Context(), owner(r), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"briefs": briefs,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

type dashboardResponse struct {
	*brief.Dashboard
	SummarySections []report.Section `json:"summary_sections"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Dashboard(r.Context(), r.PathValue("id"), owner(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sections := report.Sections(d.Brief.Summary)
	if sections == nil {
		sections = []report.Section{}
	}
	writeJSON(w, http.StatusOK, dashboardResponse{Dashboard: d, SummarySections: sections})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.Status(r.Context(), r.PathValue("id"), owner(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.service.Get(r.Context(), id, owner(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	ticket, err := s.service.BeginRefresh(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.jobs.Submit("refresh "+id, func(ctx context.Context) error {
		_, err := s.service.RunRefresh(ctx, ticket)
		return err
	}); err != nil {
		s.log.Error("refresh not scheduled", "brief_id", id, "error", err)
		if _, aerr := s.service.AbandonRefresh(r.Context(), ticket, err); aerr != nil {
			s.log.Error("unscheduled refresh could not restore status", "brief_id", id, "error", aerr)
		}
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "brief": ticket.Brief})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("id"), owner(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) renderHTML(r *http.Request) (*brief.Dashboard, string, error) {
	d, err := s.service.Dashboard(r.Context(), r.PathValue("id"), owner(r))
	if err != nil {
		return nil, "", err
	}
	doc, err := report.RenderHTML("ScanX brief: "+d.Brief.Topic, report.BuildMarkdown(d))
	if err != nil {
		return nil, "", err
	}
	return d, doc, nil
}

func (s *Server) handleReportHTML(w http.ResponseWriter, r *http.Request) {
	_, doc, err := s.renderHTML(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, doc)
}

func (s *Server) handleReportPDF(w http.ResponseWriter, r *http.Request) {
	if s.pdf == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "pdf renderer unavailable")
		return
	}
	d, doc, err := s.renderHTML(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	pdf, err := s.pdf.Render(r.Context(), doc)
	if err != nil {
		s.log.Error("render report pdf failed", "brief_id", d.Brief.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "failed to render pdf")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename(d.Brief, "pdf")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}
