package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"autopilot-platform/internal/audit"
	"autopilot-platform/internal/auth"
	"autopilot-platform/internal/autonomy"
	"autopilot-platform/internal/campaigns"
	"autopilot-platform/internal/channel"
	"autopilot-platform/internal/leads"
	"autopilot-platform/internal/rbac"
	"autopilot-platform/internal/store"
	"autopilot-platform/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth        *auth.Manager
	Profiles    autonomy.ProfileStore
	Suggestions *autonomy.SuggestionService
	Orch        *autonomy.Orchestrator
	Audit       *audit.Service
	Workflows   *workflow.Service
	Leads       leads.Source
	Campaigns   campaigns.Repository
}

// --- Auth ---

type loginRequest struct {
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
	Role        string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.WorkspaceID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, workspace_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.WorkspaceID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Autonomy ---

// GetAutonomyProfile returns the caller's permission profile.
func (h Handlers) GetAutonomyProfile(c *gin.Context) {
	workspaceID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	p, err := h.Profiles.GetProfile(c.Request.Context(), workspaceID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type putProfileRequest struct {
	Tier string `json:"tier"`
}

// PutAutonomyProfile sets the caller's autonomy tier. RBAC: owner only.
func (h Handlers) PutAutonomyProfile(c *gin.Context) {
	workspaceID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req putProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p := autonomy.PermissionProfile{
		WorkspaceID: workspaceID,
		OwnerID:     userID,
		Tier:        autonomy.Tier(req.Tier),
	}
	if err := h.Profiles.PutProfile(c.Request.Context(), p); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type sweepRequest struct {
	Simulate bool `json:"simulate"`
}

// RunSweep triggers the autonomous campaign loop on demand; the simulate
// flag runs the full pipeline without external effects.
func (h Handlers) RunSweep(c *gin.Context) {
	workspaceID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req sweepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	report, err := h.Orch.RunSweep(c.Request.Context(), workspaceID, userID, req.Simulate)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h Handlers) ListSuggestions(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	status := autonomy.SuggestionStatus(c.Query("status"))
	out, err := h.Suggestions.List(c.Request.Context(), workspaceID, status)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": out})
}

type resolveSuggestionRequest struct {
	Status string `json:"status"` // accepted | dismissed
}

func (h Handlers) ResolveSuggestion(c *gin.Context) {
	workspaceID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req resolveSuggestionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	sug, err := h.Suggestions.Resolve(c.Request.Context(), workspaceID,
		c.Param("suggestion_id"), autonomy.SuggestionStatus(req.Status), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	// Accepting executes the action with the approval flag set; explicit
	// user approval substitutes for the permission gate.
	executed := false
	var execErr string
	if sug.Status == autonomy.SuggestionAccepted {
		if err := h.Orch.ExecuteApproved(c.Request.Context(), sug, userID); err != nil {
			execErr = "execution failed"
		} else {
			executed = true
		}
	}
	resp := gin.H{"suggestion": sug, "executed": executed}
	if execErr != "" {
		resp["error"] = execErr
	}
	c.JSON(http.StatusOK, resp)
}

type outcomeRequest struct {
	Success        bool   `json:"success"`
	Signal         string `json:"signal,omitempty"`
	TimeToResponse string `json:"time_to_response,omitempty"` // Go duration
}

// RecordOutcome reports how a decided action worked out; the learner folds
// it into future expected values.
func (h Handlers) RecordOutcome(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	out := autonomy.Outcome{
		DecisionID: c.Param("decision_id"),
		Success:    req.Success,
		Signal:     req.Signal,
		ObservedAt: time.Now().UTC(),
	}
	if req.TimeToResponse != "" {
		d, err := time.ParseDuration(req.TimeToResponse)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time_to_response"})
			return
		}
		out.TimeToResponse = d
	}
	ev, err := h.Orch.RecordOutcome(c.Request.Context(), workspaceID, out)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision_id": out.DecisionID, "expected_value": ev})
}

// --- Audit ---

func (h Handlers) ListAudit(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := h.Audit.List(c.Request.Context(), workspaceID, limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// --- Leads ---

func (h Handlers) UpsertLead(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var p leads.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	p.ID = c.Param("lead_id")
	p.WorkspaceID = workspaceID
	if err := h.Leads.PutProfile(c.Request.Context(), p); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) GetLead(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	p, err := h.Leads.GetProfile(c.Request.Context(), workspaceID, c.Param("lead_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// --- Campaigns ---

func (h Handlers) UpsertCampaign(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var cam campaigns.Campaign
	if err := c.ShouldBindJSON(&cam); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cam.ID = c.Param("campaign_id")
	cam.WorkspaceID = workspaceID
	now := time.Now().UTC()
	if cam.CreatedAt.IsZero() {
		cam.CreatedAt = now
	}
	cam.UpdatedAt = now
	if err := h.Campaigns.UpsertCampaign(c.Request.Context(), cam); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, cam)
}

type snapshotRequest struct {
	Sent   int       `json:"sent"`
	Opens  int       `json:"opens"`
	Clicks int       `json:"clicks"`
	SentAt time.Time `json:"sent_at"`
}

// IngestSnapshot appends one immutable engagement observation.
func (h Handlers) IngestSnapshot(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.SentAt.IsZero() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "sent_at required"})
		return
	}
	s := campaigns.MetricSnapshot{
		ID:          uuid.NewString(),
		WorkspaceID: workspaceID,
		CampaignID:  c.Param("campaign_id"),
		Sent:        req.Sent,
		Opens:       req.Opens,
		Clicks:      req.Clicks,
		SentAt:      req.SentAt,
		CapturedAt:  time.Now().UTC(),
	}
	if err := h.Campaigns.AppendSnapshot(c.Request.Context(), s); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// --- Workflows ---

type startWorkflowRequest struct {
	LeadID    string `json:"lead_id"`
	Objective string `json:"objective"`
}

func (h Handlers) StartWorkflow(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	inst, err := h.Workflows.StartWorkflow(c.Request.Context(), workspaceID, req.LeadID, workflow.Objective(req.Objective))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inst)
}

func (h Handlers) GetWorkflow(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	inst, err := h.Workflows.GetWorkflow(c.Request.Context(), workspaceID, c.Param("workflow_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h Handlers) ListWorkflows(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	out, err := h.Workflows.ListWorkflows(c.Request.Context(), workspaceID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": out})
}

// --- Response webhook ---

type responseWebhookRequest struct {
	WorkspaceID string     `json:"workspace_id"`
	WorkflowID  string     `json:"workflow_id"`
	Sentiment   string     `json:"sentiment"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
}

// HandleResponseWebhook records an inbound lead reaction delivered by the
// channel relay.
//
// NOTE: This endpoint should be protected by relay signature validation in
// production.
func (h Handlers) HandleResponseWebhook(c *gin.Context) {
	var req responseWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.WorkspaceID == "" || req.WorkflowID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "workspace_id and workflow_id required"})
		return
	}
	resp := workflow.Response{Sentiment: workflow.Sentiment(req.Sentiment)}
	switch resp.Sentiment {
	case workflow.SentimentPositive, workflow.SentimentNeutral, workflow.SentimentNegative:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "sentiment must be positive, neutral or negative"})
		return
	}
	if req.ReceivedAt != nil {
		resp.ReceivedAt = *req.ReceivedAt
	}
	inst, err := h.Workflows.HandleResponse(c.Request.Context(), req.WorkspaceID, req.WorkflowID, resp)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// --- Sequences ---

type stepRequest struct {
	Type      string            `json:"type"`
	Channel   string            `json:"channel,omitempty"`
	Template  string            `json:"template,omitempty"`
	Subject   string            `json:"subject,omitempty"`
	Delay     string            `json:"delay,omitempty"` // Go duration, e.g. "48h"
	Options   []autonomy.Option `json:"options,omitempty"`
	TaskNote  string            `json:"task_note,omitempty"`
	Condition string            `json:"condition,omitempty"` // no_response | responded
}

type startSequenceRequest struct {
	LeadID string        `json:"lead_id"`
	Steps  []stepRequest `json:"steps"`
}

func (h Handlers) StartSequence(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	var req startSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	steps := make([]workflow.Step, 0, len(req.Steps))
	for i, sr := range req.Steps {
		st, err := sr.toStep()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "step " + strconv.Itoa(i) + ": " + err.Error()})
			return
		}
		steps = append(steps, st)
	}
	seq, err := h.Workflows.StartSequence(c.Request.Context(), workspaceID, req.LeadID, steps)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, seq)
}

func (sr stepRequest) toStep() (workflow.Step, error) {
	st := workflow.Step{
		Type:     workflow.StepType(sr.Type),
		Channel:  channel.Channel(sr.Channel),
		Template: sr.Template,
		Subject:  sr.Subject,
		Options:  sr.Options,
		TaskNote: sr.TaskNote,
	}
	if sr.Delay != "" {
		d, err := time.ParseDuration(sr.Delay)
		if err != nil {
			return workflow.Step{}, errors.New("invalid delay")
		}
		st.Delay = d
	}
	if sr.Condition != "" {
		st.Condition = &workflow.StepCondition{Kind: workflow.ConditionKind(sr.Condition)}
	}
	return st, nil
}

func (h Handlers) GetSequence(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	seq, err := h.Workflows.GetSequence(c.Request.Context(), workspaceID, c.Param("sequence_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

func (h Handlers) PauseSequence(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	seq, err := h.Workflows.PauseSequence(c.Request.Context(), workspaceID, c.Param("sequence_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

func (h Handlers) ResumeSequence(c *gin.Context) {
	workspaceID, _, ok := h.identity(c)
	if !ok {
		return
	}
	seq, err := h.Workflows.ResumeSequence(c.Request.Context(), workspaceID, c.Param("sequence_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, seq)
}

// --- helpers ---

func (h Handlers) identity(c *gin.Context) (workspaceID, userID string, ok bool) {
	workspaceID, err := auth.WorkspaceID(c.Request.Context())
	if err != nil || workspaceID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "workspace_id required"})
		return "", "", false
	}
	userID, _ = auth.UserID(c.Request.Context())
	return workspaceID, userID, true
}

func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound) || errors.Is(err, autonomy.ErrNotFound) || errors.Is(err, campaigns.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrInvalidArgument) || errors.Is(err, autonomy.ErrValidation) || errors.Is(err, workflow.ErrBadTransition):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrTerminal) || errors.Is(err, store.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, autonomy.ErrPermissionDenied):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// Convenience middleware bundles.

func RequireWorkspaceAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireWorkspace(), rbac.RequireAnyRole(roles...)}
}
