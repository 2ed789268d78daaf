package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/epi-panel-etl/internal/domain"
	"github.com/couchcryptid/epi-panel-etl/internal/pipeline"
)

// msgNoData is returned whenever no panel can be served.
const msgNoData = "no data available, try again"

// PanelService is the read and refresh surface of the pipeline service.
type PanelService interface {
	sharedobs.ReadinessChecker
	Snapshot() *domain.Panel
	Refresh(ctx context.Context) (*pipeline.AssemblyContext, error)
}

// Server exposes the assembled panel plus health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	panels     PanelService
	states     StatesFunc
	counties   CountiesFunc
	logger     *slog.Logger
}

// StatesFunc assembles the US state-level panel on demand.
type StatesFunc func(ctx context.Context) ([]domain.StateRow, error)

// EnableUSStates registers GET /us-states.csv backed by fn.
func (s *Server) EnableUSStates(fn StatesFunc) {
	s.states = fn
}

// CountiesFunc assembles the US county-level panel on demand.
type CountiesFunc func(ctx context.Context) ([]domain.CountyRow, error)

// EnableUSCounties registers GET /us-counties.csv backed by fn.
func (s *Server) EnableUSCounties(fn CountiesFunc) {
	s.counties = fn
}

// NewServer creates an HTTP server with /panel.csv, /panel, /refresh,
// /us-states.csv, /us-counties.csv, /healthz, /readyz, and /metrics routes.
// The US routes answer 404 until enabled.
func NewServer(addr string, panels PanelService, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
			// A refresh may walk several feed dates before answering.
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		panels: panels,
		logger: logger,
	}

	mux.HandleFunc("GET /panel.csv", s.handlePanelCSV)
	mux.HandleFunc("GET /panel", s.handlePanelJSON)
	mux.HandleFunc("POST /refresh", s.handleRefresh)
	mux.HandleFunc("GET /us-states.csv", s.handleStatesCSV)
	mux.HandleFunc("GET /us-counties.csv", s.handleCountiesCSV)
	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(panels))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handlePanelCSV(w http.ResponseWriter, _ *http.Request) {
	panel := s.panels.Snapshot()
	if panel == nil {
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorBody(msgNoData))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition",
		`attachment; filename="panel_`+panel.ReportDate.Format(domain.DateLayout)+`.csv"`)
	if err := domain.WritePanelCSV(w, panel.Rows); err != nil {
		s.logger.Error("write panel csv", "error", err)
	}
}

// panelResponse is the JSON form of a panel. Dates are YYYY-MM-DD.
type panelResponse struct {
	ReferenceDate string            `json:"reference_date"`
	ReportDate    string            `json:"report_date"`
	FirstDate     string            `json:"first_date,omitempty"`
	LastDate      string            `json:"last_date,omitempty"`
	Entities      int               `json:"entities"`
	RowCount      int               `json:"row_count"`
	Rows          []domain.PanelRow `json:"rows"`
}

// handlePanelJSON serves the panel as JSON. The optional entity query
// parameter restricts rows to one long code.
func (s *Server) handlePanelJSON(w http.ResponseWriter, r *http.Request) {
	panel := s.panels.Snapshot()
	if panel == nil {
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorBody(msgNoData))
		return
	}

	rows := panel.Rows
	if code := r.URL.Query().Get("entity"); code != "" {
		rows = make([]domain.PanelRow, 0)
		for i := range panel.Rows {
			if panel.Rows[i].LongCode == code {
				rows = append(rows, panel.Rows[i])
			}
		}
		if len(rows) == 0 {
			sharedobs.WriteJSON(w, http.StatusNotFound, errorBody("unknown entity "+code))
			return
		}
	}

	resp := panelResponse{
		ReferenceDate: panel.ReferenceDate.Format(domain.DateLayout),
		ReportDate:    panel.ReportDate.Format(domain.DateLayout),
		Entities:      len(panel.Entities()),
		RowCount:      len(rows),
		Rows:          rows,
	}
	if first, last, ok := panel.DateBounds(); ok {
		resp.FirstDate = first.Format(domain.DateLayout)
		resp.LastDate = last.Format(domain.DateLayout)
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatesCSV(w http.ResponseWriter, r *http.Request) {
	if s.states == nil {
		http.NotFound(w, r)
		return
	}
	rows, err := s.states(r.Context())
	if err != nil {
		s.logger.Error("us states assembly failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorBody(msgNoData))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := domain.WriteStateCSV(w, rows); err != nil {
		s.logger.Error("write us states csv", "error", err)
	}
}

func (s *Server) handleCountiesCSV(w http.ResponseWriter, r *http.Request) {
	if s.counties == nil {
		http.NotFound(w, r)
		return
	}
	rows, err := s.counties(r.Context())
	if err != nil {
		s.logger.Error("us counties assembly failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorBody(msgNoData))
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	if err := domain.WriteCountyCSV(w, rows); err != nil {
		s.logger.Error("write us counties csv", "error", err)
	}
}

type refreshResponse struct {
	Status     string   `json:"status"`
	RunID      string   `json:"run_id"`
	Cached     bool     `json:"cached,omitempty"`
	ReportDate string   `json:"report_date"`
	Rows       int      `json:"rows"`
	Skipped    []string `json:"skipped,omitempty"`
}

// handleRefresh runs one assembly. The run is detached from the request so
// a disconnecting client does not abort it.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	run, err := s.panels.Refresh(context.WithoutCancel(r.Context()))
	if err != nil {
		s.logger.Error("refresh failed", "error", err)
		sharedobs.WriteJSON(w, http.StatusServiceUnavailable, errorBody(msgNoData))
		return
	}

	resp := refreshResponse{
		Status:     "ok",
		RunID:      run.RunID,
		Cached:     run.Cached,
		ReportDate: run.Panel.ReportDate.Format(domain.DateLayout),
		Rows:       len(run.Panel.Rows),
	}
	if run.Partial() {
		resp.Status = "partial"
		resp.Skipped = run.Skipped()
		s.logger.Warn("refresh produced a partial panel", "run_id", run.RunID, "skipped", resp.Skipped)
	}
	sharedobs.WriteJSON(w, http.StatusOK, resp)
}

func errorBody(msg string) map[string]string {
	return map[string]string{"status": "error", "error": msg}
}
