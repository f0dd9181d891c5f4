package main

import (
	"autopilot-platform/internal/httpapi"
	"autopilot-platform/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Relay webhooks (public).
	// NOTE: This endpoint should be protected by relay signature validation in production.
	r.POST("/webhooks/responses", h.HandleResponseWebhook)

	// Token issuance.
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	v1.Use(rbac.RequireWorkspace())
	{
		// AUTONOMY routes: tier changes are owner-level decisions.
		auton := v1.Group("/autonomy")
		{
			auton.GET("/profile",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleAnalyst, rbac.RoleSuperAdmin),
				h.GetAutonomyProfile)
			auton.PUT("/profile",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin),
				h.PutAutonomyProfile)
			auton.POST("/sweep",
				rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleSuperAdmin),
				h.RunSweep)
		}

		// SUGGESTION routes
		suggestions := v1.Group("/suggestions")
		suggestions.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleSuperAdmin))
		{
			suggestions.GET("", h.ListSuggestions)
			suggestions.POST("/:suggestion_id/resolve", h.ResolveSuggestion)
		}

		// DECISION outcome reporting feeds the learner.
		v1.POST("/decisions/:decision_id/outcome",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleAnalyst, rbac.RoleSuperAdmin),
			h.RecordOutcome)

		// AUDIT routes: read-only review surface.
		v1.GET("/audit",
			rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleAnalyst, rbac.RoleSuperAdmin),
			h.ListAudit)

		// LEAD routes
		leadGroup := v1.Group("/leads")
		leadGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleSuperAdmin))
		{
			leadGroup.PUT("/:lead_id", h.UpsertLead)
			leadGroup.GET("/:lead_id", h.GetLead)
		}

		// CAMPAIGN routes
		campaignGroup := v1.Group("/campaigns")
		campaignGroup.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
		{
			campaignGroup.PUT("/:campaign_id", h.UpsertCampaign)
			campaignGroup.POST("/:campaign_id/snapshots", h.IngestSnapshot)
		}

		// WORKFLOW routes
		workflows := v1.Group("/workflows")
		workflows.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleSuperAdmin))
		{
			workflows.POST("", h.StartWorkflow)
			workflows.GET("", h.ListWorkflows)
			workflows.GET("/:workflow_id", h.GetWorkflow)
		}

		// SEQUENCE routes
		sequences := v1.Group("/sequences")
		sequences.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleMarketer, rbac.RoleSuperAdmin))
		{
			sequences.POST("", h.StartSequence)
			sequences.GET("/:sequence_id", h.GetSequence)
			sequences.POST("/:sequence_id/pause", h.PauseSequence)
			sequences.POST("/:sequence_id/resume", h.ResumeSequence)
		}
	}
}
