// Package handler exposes the monitoring plan API over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"modelproof/internal/audit"
	dmodels "modelproof/internal/monitoring/models"
	"modelproof/internal/monitoring/plans"
	id "modelproof/pkg/domain"
	dErrors "modelproof/pkg/domain-errors"
	"modelproof/pkg/platform/httputil"
	"modelproof/pkg/requestcontext"
)

// MembershipService mutates and reads the membership ledger.
type MembershipService interface {
	Add(ctx context.Context, planID id.PlanID, modelID id.ModelID) error
	Remove(ctx context.Context, planID id.PlanID, modelID id.ModelID) error
	Transfer(ctx context.Context, modelID id.ModelID, fromPlanID, toPlanID id.PlanID) error
	ActiveModels(ctx context.Context, planID id.PlanID) ([]id.ModelID, error)
	History(ctx context.Context, modelID id.ModelID) ([]dmodels.Membership, error)
}

// PlanService manages plans and cycle lifecycle.
type PlanService interface {
	CreatePlan(ctx context.Context, name string, cadence dmodels.Cadence) (*dmodels.Plan, error)
	GetPlan(ctx context.Context, planID id.PlanID) (*plans.PlanSummary, error)
	ListPlans(ctx context.Context) ([]plans.PlanSummary, error)
	PublishVersion(ctx context.Context, planID id.PlanID) (id.PlanVersionID, error)
	CreateCycle(ctx context.Context, planID id.PlanID, versionID id.PlanVersionID) (*dmodels.Cycle, error)
	GetCycle(ctx context.Context, cycleID id.CycleID) (*dmodels.Cycle, error)
	ListCycles(ctx context.Context, planID id.PlanID) ([]dmodels.Cycle, error)
	TransitionCycle(ctx context.Context, cycleID id.CycleID, next dmodels.CycleStatus) error
	RecordResult(ctx context.Context, cycleID id.CycleID, modelID id.ModelID, outcome dmodels.ResultOutcome) error
}

// ScopeResolver answers historical scope questions.
type ScopeResolver interface {
	Resolve(ctx context.Context, cycleID id.CycleID) (*dmodels.ResolvedScope, error)
}

// AccessChecker evaluates per-model visibility inside a cycle.
type AccessChecker interface {
	CanViewModelInCycle(ctx context.Context, cycleID id.CycleID, modelID id.ModelID) (bool, error)
}

// AuditReader serves the per-plan audit trail.
type AuditReader interface {
	ListByPlan(ctx context.Context, planID id.PlanID) ([]audit.Event, error)
}

// Handler wires the monitoring endpoints to their services.
type Handler struct {
	membership MembershipService
	plans      PlanService
	resolver   ScopeResolver
	access     AccessChecker
	trail      AuditReader
	logger     *slog.Logger
}

// New constructs the monitoring handler with its dependencies.
func New(membership MembershipService, planSvc PlanService, resolver ScopeResolver, access AccessChecker, trail AuditReader, logger *slog.Logger) *Handler {
	return &Handler{
		membership: membership,
		plans:      planSvc,
		resolver:   resolver,
		access:     access,
		trail:      trail,
		logger:     logger,
	}
}

// Register mounts the monitoring endpoints on the router. Authentication is
// applied by the caller; admin enforcement lives in the services so it holds
// for every entry point, not just HTTP.
func (h *Handler) Register(r chi.Router) {
	r.Post("/plans", h.HandleCreatePlan)
	r.Get("/plans", h.HandleListPlans)
	r.Get("/plans/{planID}", h.HandleGetPlan)
	r.Post("/plans/{planID}/versions", h.HandlePublishVersion)
	r.Get("/plans/{planID}/models", h.HandleListModels)
	r.Post("/plans/{planID}/models", h.HandleAddModel)
	r.Delete("/plans/{planID}/models/{modelID}", h.HandleRemoveModel)
	r.Get("/plans/{planID}/cycles", h.HandleListCycles)
	r.Post("/plans/{planID}/cycles", h.HandleCreateCycle)
	r.Get("/plans/{planID}/audit", h.HandleAuditTrail)
	r.Post("/transfers", h.HandleTransfer)
	r.Get("/models/{modelID}/memberships", h.HandleHistory)
	r.Get("/cycles/{cycleID}", h.HandleGetCycle)
	r.Post("/cycles/{cycleID}/transition", h.HandleTransitionCycle)
	r.Post("/cycles/{cycleID}/results", h.HandleRecordResult)
	r.Get("/cycles/{cycleID}/scope", h.HandleResolveScope)
	r.Get("/cycles/{cycleID}/models/{modelID}/visibility", h.HandleVisibility)
}

// HandleCreatePlan handles POST /plans.
func (h *Handler) HandleCreatePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreatePlanRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	plan, err := h.plans.CreatePlan(ctx, req.Name, dmodels.Cadence(req.Cadence))
	if err != nil {
		h.writeError(w, r, "plan creation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, plan)
}

// HandleListPlans handles GET /plans.
func (h *Handler) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.plans.ListPlans(r.Context())
	if err != nil {
		h.writeError(w, r, "plan listing failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summaries)
}

// HandleGetPlan handles GET /plans/{planID}.
func (h *Handler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	summary, err := h.plans.GetPlan(r.Context(), planID)
	if err != nil {
		h.writeError(w, r, "plan read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

// HandlePublishVersion handles POST /plans/{planID}/versions.
func (h *Handler) HandlePublishVersion(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	versionID, err := h.plans.PublishVersion(r.Context(), planID)
	if err != nil {
		h.writeError(w, r, "version publish failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, PublishVersionResponse{PlanVersionID: versionID.String()})
}

// HandleListModels handles GET /plans/{planID}/models.
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	models, err := h.membership.ActiveModels(r.Context(), planID)
	if err != nil {
		h.writeError(w, r, "membership listing failed", err)
		return
	}
	modelIDs := make([]string, 0, len(models))
	for _, m := range models {
		modelIDs = append(modelIDs, m.String())
	}
	httputil.WriteJSON(w, http.StatusOK, ActiveModelsResponse{PlanID: planID.String(), ModelIDs: modelIDs})
}

// HandleAddModel handles POST /plans/{planID}/models.
func (h *Handler) HandleAddModel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[AddModelRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	if err := h.membership.Add(ctx, planID, req.parsedModelID); err != nil {
		h.writeError(w, r, "membership add failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRemoveModel handles DELETE /plans/{planID}/models/{modelID}.
func (h *Handler) HandleRemoveModel(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	modelID, ok := h.modelID(w, r)
	if !ok {
		return
	}
	if err := h.membership.Remove(r.Context(), planID, modelID); err != nil {
		h.writeError(w, r, "membership remove failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleTransfer handles POST /transfers.
func (h *Handler) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()
	req, ok := httputil.DecodeAndPrepare[TransferRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	if err := h.membership.Transfer(ctx, req.parsedModelID, req.parsedFrom, req.parsedTo); err != nil {
		h.writeError(w, r, "transfer failed", err)
		return
	}

	h.logger.InfoContext(ctx, "transfer completed",
		"request_id", requestcontext.RequestID(ctx),
		"model_id", req.ModelID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleHistory handles GET /models/{modelID}/memberships.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	modelID, ok := h.modelID(w, r)
	if !ok {
		return
	}
	rows, err := h.membership.History(r.Context(), modelID)
	if err != nil {
		h.writeError(w, r, "history read failed", err)
		return
	}
	memberships := make([]MembershipResponse, 0, len(rows))
	for _, m := range rows {
		memberships = append(memberships, fromMembership(m))
	}
	httputil.WriteJSON(w, http.StatusOK, HistoryResponse{ModelID: modelID.String(), Memberships: memberships})
}

// HandleListCycles handles GET /plans/{planID}/cycles.
func (h *Handler) HandleListCycles(w http.ResponseWriter, r *http.Request) {
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	cycles, err := h.plans.ListCycles(r.Context(), planID)
	if err != nil {
		h.writeError(w, r, "cycle listing failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cycles)
}

// HandleCreateCycle handles POST /plans/{planID}/cycles.
func (h *Handler) HandleCreateCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[CreateCycleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	cycle, err := h.plans.CreateCycle(ctx, planID, req.parsedVersionID)
	if err != nil {
		h.writeError(w, r, "cycle creation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cycle)
}

// HandleGetCycle handles GET /cycles/{cycleID}.
func (h *Handler) HandleGetCycle(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	cycle, err := h.plans.GetCycle(r.Context(), cycleID)
	if err != nil {
		h.writeError(w, r, "cycle read failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cycle)
}

// HandleTransitionCycle handles POST /cycles/{cycleID}/transition.
func (h *Handler) HandleTransitionCycle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cycleID, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[TransitionCycleRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	if err := h.plans.TransitionCycle(ctx, cycleID, dmodels.CycleStatus(req.Status)); err != nil {
		h.writeError(w, r, "cycle transition failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecordResult handles POST /cycles/{cycleID}/results.
func (h *Handler) HandleRecordResult(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cycleID, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[RecordResultRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	if err := h.plans.RecordResult(ctx, cycleID, req.parsedModelID, dmodels.ResultOutcome(req.Outcome)); err != nil {
		h.writeError(w, r, "result recording failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleResolveScope handles GET /cycles/{cycleID}/scope.
func (h *Handler) HandleResolveScope(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	scope, err := h.resolver.Resolve(r.Context(), cycleID)
	if err != nil {
		h.writeError(w, r, "scope resolution failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromResolvedScope(scope))
}

// HandleVisibility handles GET /cycles/{cycleID}/models/{modelID}/visibility.
func (h *Handler) HandleVisibility(w http.ResponseWriter, r *http.Request) {
	cycleID, ok := h.cycleID(w, r)
	if !ok {
		return
	}
	modelID, ok := h.modelID(w, r)
	if !ok {
		return
	}
	visible, err := h.access.CanViewModelInCycle(r.Context(), cycleID, modelID)
	if err != nil {
		h.writeError(w, r, "visibility check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, VisibilityResponse{
		CycleID: cycleID.String(),
		ModelID: modelID.String(),
		Visible: visible,
	})
}

// HandleAuditTrail handles GET /plans/{planID}/audit.
func (h *Handler) HandleAuditTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !requestcontext.IsAdmin(ctx) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "audit trail requires an administrator"))
		return
	}
	planID, ok := h.planID(w, r)
	if !ok {
		return
	}
	events, err := h.trail.ListByPlan(ctx, planID)
	if err != nil {
		h.writeError(w, r, "audit trail read failed", err)
		return
	}
	responses := make([]AuditEventResponse, 0, len(events))
	for _, e := range events {
		responses = append(responses, fromAuditEvent(e))
	}
	httputil.WriteJSON(w, http.StatusOK, responses)
}

func (h *Handler) planID(w http.ResponseWriter, r *http.Request) (id.PlanID, bool) {
	planID, err := id.ParsePlanID(chi.URLParam(r, "planID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.PlanID{}, false
	}
	return planID, true
}

func (h *Handler) modelID(w http.ResponseWriter, r *http.Request) (id.ModelID, bool) {
	modelID, err := id.ParseModelID(chi.URLParam(r, "modelID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ModelID{}, false
	}
	return modelID, true
}

func (h *Handler) cycleID(w http.ResponseWriter, r *http.Request) (id.CycleID, bool) {
	cycleID, err := id.ParseCycleID(chi.URLParam(r, "cycleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.CycleID{}, false
	}
	return cycleID, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
