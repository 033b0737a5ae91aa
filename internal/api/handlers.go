package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/affnet-network/affnet/internal/app/engine"
	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/snapshot"
)

// ─── Affiliates ─────────────────────────────────────────────────────────────
//
// POST /api/affiliates                register an affiliate
// GET  /api/affiliates/{id}           stored record
// GET  /api/affiliates/{id}/progress  referrals to next level
// GET  /api/affiliates/{id}/level-ups
// GET  /api/affiliates/{id}/chain     upline used for distribution
// POST /api/affiliates/{id}/reset     manual reset to ACTIVE
// POST /api/affiliates/{id}/approve   approve a pending reactivation

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req engine.Registration
	if !decode(w, r, &req) {
		return
	}
	a, err := s.svc.RegisterAffiliate(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleAffiliate(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Affiliate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Progress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleLevelUps(w http.ResponseWriter, r *http.Request) {
	evs, err := s.svc.LevelUpEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if evs == nil {
		evs = []domain.LevelUpEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.svc.Chain(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chain": chain})
}

func (s *Server) handleManualReset(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.ManualReset(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.ApproveReactivation(r.Context(), chi.URLParam(r, "id"), actor(r))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ─── Referrals & Rules ──────────────────────────────────────────────────────

// POST /api/referrals
func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	var ev domain.ReferralEvent
	if !decode(w, r, &ev) {
		return
	}
	res, err := s.svc.RecordReferral(r.Context(), ev)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/rules/evaluate
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var m domain.PlayerMetrics
	if !decode(w, r, &m) {
		return
	}
	ex, err := s.svc.Explain(m)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

// GET /api/tiers/resolve?category=ID&referrals=N
func (s *Server) handleResolveLevel(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseInt(r.URL.Query().Get("referrals"), 10, 64)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "referrals must be a non-negative integer")
		return
	}
	l, err := s.svc.ResolveLevel(r.URL.Query().Get("category"), n)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	resp := map[string]any{"level": l}
	if next, ok, err := s.svc.NextLevel(l.ID); err == nil && ok {
		resp["next_level"] = next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ─── Commissions ────────────────────────────────────────────────────────────

type ngrRequest struct {
	GGR        domain.Money      `json:"ggr"`
	Abatements domain.Abatements `json:"abatements"`
}

// POST /api/ngr
func (s *Server) handleNgr(w http.ResponseWriter, r *http.Request) {
	var req ngrRequest
	if !decode(w, r, &req) {
		return
	}
	res, version, err := s.svc.ComputeNgr(req.GGR, req.Abatements)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": res, "snapshot_version": version})
}

type distributeRequest struct {
	ReferrerID string       `json:"referrer_id"`
	Cofre      domain.Money `json:"cofre"`
}

// POST /api/distribute
func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !decode(w, r, &req) {
		return
	}
	d, err := s.svc.Distribute(r.Context(), req.ReferrerID, req.Cofre)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type settleRequest struct {
	ReferrerID string            `json:"referrer_id"`
	GGR        domain.Money      `json:"ggr"`
	Abatements domain.Abatements `json:"abatements"`
}

// POST /api/settle
func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Settle(r.Context(), req.ReferrerID, req.GGR, req.Abatements)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Inactivity ─────────────────────────────────────────────────────────────

type passRequest struct {
	AsOf time.Time `json:"as_of"`
}

// asOf reads an optional {"as_of": ...} body; an empty body means now.
func (s *Server) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	var req passRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return time.Time{}, false
		}
	}
	if req.AsOf.IsZero() {
		return s.now(), true
	}
	return req.AsOf, true
}

// POST /api/inactivity/pass
func (s *Server) handlePass(w http.ResponseWriter, r *http.Request) {
	at, ok := s.asOf(w, r)
	if !ok {
		return
	}
	run, err := s.svc.RunInactivityPass(r.Context(), at)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// POST /api/inactivity/retry
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	at, ok := s.asOf(w, r)
	if !ok {
		return
	}
	run, err := s.svc.RetryFailed(r.Context(), at)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET /api/inactivity/runs?limit=N
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.svc.PassRuns(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if runs == nil {
		runs = []domain.PassRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GET /api/inactivity/failures
func (s *Server) handleFailures(w http.ResponseWriter, r *http.Request) {
	fs, err := s.svc.PendingFailures(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if fs == nil {
		fs = []domain.PassFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": fs})
}

// ─── Configuration ──────────────────────────────────────────────────────────

// GET /api/config
func (s *Server) handleConfigCurrent(w http.ResponseWriter, r *http.Request) {
	cur, err := s.svc.CurrentConfig()
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// PUT /api/config
func (s *Server) handleConfigApply(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	saved, err := s.svc.SaveConfig(r.Context(), draft, actor(r))
	if err != nil {
		writeValidation(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// POST /api/config/validate
func (s *Server) handleConfigValidate(w http.ResponseWriter, r *http.Request) {
	draft, ok := s.readDocument(w, r)
	if !ok {
		return
	}
	if err := snapshot.Validate(draft); err != nil {
		writeValidation(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// GET /api/config/versions/{version}
func (s *Server) handleConfigVersion(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil || v < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	snap, err := s.svc.ConfigVersion(r.Context(), v)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) readDocument(w http.ResponseWriter, r *http.Request) (domain.Snapshot, bool) {
	var doc snapshot.Document
	if !decode(w, r, &doc) {
		return domain.Snapshot{}, false
	}
	draft, err := doc.Snapshot()
	if err != nil {
		writeValidation(w, err)
		return domain.Snapshot{}, false
	}
	return draft, true
}

// writeValidation lists every joined configuration problem.
func writeValidation(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, err.Error())
		return
	}
	problems := []string{err.Error()}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		problems = problems[:0]
		for _, e := range joined.Unwrap() {
			problems = append(problems, e.Error())
		}
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message":  "configuration rejected",
			"type":     errorType(status),
			"problems": problems,
		},
	})
}

func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return "api"
}
