// Package server exposes the HTTP surface: campaign control, the
// availability grid, call control, and the voice provider's webhook.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/leadline-ai/leadline/internal/booking"
	"github.com/leadline-ai/leadline/internal/call"
	"github.com/leadline-ai/leadline/internal/flow"
	"github.com/leadline-ai/leadline/internal/schedule"
	"github.com/leadline-ai/leadline/internal/store"
)

type Server struct {
	store         store.Store
	calls         *call.Manager
	booker        *booking.Booker
	orch          *flow.Orchestrator
	engine        *schedule.Engine
	webhookSecret string
}

func New(st store.Store, calls *call.Manager, booker *booking.Booker, orch *flow.Orchestrator, engine *schedule.Engine, webhookSecret string) *Server {
	return &Server{
		store:         st,
		calls:         calls,
		booker:        booker,
		orch:          orch,
		engine:        engine,
		webhookSecret: webhookSecret,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/agencies/{agencyID}/slots", s.handleSlots)

	r.Route("/flows", func(r chi.Router) {
		r.Post("/", s.handleStartFlow)
		r.Get("/{flowID}", s.handleGetFlow)
		r.Post("/{flowID}/resume", s.handleResumeFlow)
	})

	r.Post("/opportunities/{opportunityID}/call", s.handleStartCall)
	r.Get("/calls/{callID}", s.handleGetCall)

	r.Post("/hooks/voice", s.handleVoiceWebhook)
	r.Post("/hooks/voice/tools", s.handleVoiceTools)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	agency, err := s.store.GetAgency(r.Context(), chi.URLParam(r, "agencyID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "agency not found")
		return
	}

	slots, err := s.engine.Slots(r.Context(), agency)
	if err != nil {
		zap.L().Error("server: compute slots", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not compute availability")
		return
	}

	type slotOut struct {
		Time  string `json:"time"`
		Label string `json:"label"`
	}
	out := make([]slotOut, 0, len(slots))
	for _, sl := range slots {
		out = append(out, slotOut{Time: sl.Time.Format(time.RFC3339), Label: sl.Label})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": out})
}

func (s *Server) handleStartFlow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         string `json:"user_id"`
		AgencyID       string `json:"agency_id"`
		Vertical       string `json:"vertical"`
		Geography      string `json:"geography"`
		RequestedLeads int    `json:"requested_leads"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	f, err := s.orch.Start(r.Context(), flow.StartParams{
		UserID:         req.UserID,
		AgencyID:       req.AgencyID,
		Vertical:       req.Vertical,
		Geography:      req.Geography,
		RequestedLeads: req.RequestedLeads,
	})
	if err != nil && f == nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	// a flow that errored mid-run still returns its record; the phases
	// carry the failure detail
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleResumeFlow(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	if err := s.orch.Resume(r.Context(), flowID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	f, err := s.store.GetFlow(r.Context(), flowID)
	if err != nil {
		writeError(w, http.StatusNotFound, "flow not found")
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	c, err := s.calls.Start(r.Context(), chi.URLParam(r, "opportunityID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetCall(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "call not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
