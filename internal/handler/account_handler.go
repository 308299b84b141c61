package handler

import (
	"echoscribe/internal/repository"
	"echoscribe/internal/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleProvisionAccount handles POST /v1/accounts/:ownerID
func (s *Server) handleProvisionAccount(c *gin.Context) {
	ent, created, err := s.deps.Entitlements.Provision(c.Request.Context(), c.Param("ownerID"))
	if err != nil {
		s.logger.Error("error provisioning account", "owner_id", c.Param("ownerID"), "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to provision account")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, ent)
}

// handleGetQuota handles GET /v1/accounts/:ownerID/quota
func (s *Server) handleGetQuota(c *gin.Context) {
	quota, err := s.deps.Entitlements.GetQuota(c.Request.Context(), c.Param("ownerID"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("error getting quota", "owner_id", c.Param("ownerID"), "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to get quota")
		return
	}
	c.JSON(http.StatusOK, quota)
}

// handleAdmission handles GET /v1/accounts/:ownerID/admission, checked before an upload starts
func (s *Server) handleAdmission(c *gin.Context) {
	ownerID := c.Param("ownerID")
	admitted, err := s.deps.Entitlements.CanAdmit(c.Request.Context(), ownerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			errorJSON(c, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error("error checking admission", "owner_id", ownerID, "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to check admission")
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner_id": ownerID, "admitted": admitted})
}

// handleExport handles GET /v1/accounts/:ownerID/export
func (s *Server) handleExport(c *gin.Context) {
	export, err := s.deps.Accounts.Export(c.Request.Context(), c.Param("ownerID"))
	if err != nil {
		s.logger.Error("error exporting account", "owner_id", c.Param("ownerID"), "error", err)
		errorJSON(c, http.StatusInternalServerError, "failed to export account")
		return
	}
	c.JSON(http.StatusOK, export)
}

// handleDeleteAccount handles DELETE /v1/accounts/:ownerID
func (s *Server) handleDeleteAccount(c *gin.Context) {
	report, err := s.deps.Accounts.DeleteAccount(c.Request.Context(), c.Param("ownerID"))
	if err != nil {
		s.logger.Error("account deletion incomplete", "owner_id", c.Param("ownerID"), "error", err)
		c.JSON(http.StatusInternalServerError, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// handleCancelSubscription handles POST /v1/accounts/:ownerID/subscription/cancel
func (s *Server) handleCancelSubscription(c *gin.Context) {
	sub, err := s.deps.Accounts.CancelAtPeriodEnd(c.Request.Context(), c.Param("ownerID"))
	if err != nil {
		s.subscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

// handleReactivateSubscription handles POST /v1/accounts/:ownerID/subscription/reactivate
func (s *Server) handleReactivateSubscription(c *gin.Context) {
	sub, err := s.deps.Accounts.Reactivate(c.Request.Context(), c.Param("ownerID"))
	if err != nil {
		s.subscriptionError(c, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}

func (s *Server) subscriptionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoActiveSub):
		errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAlreadyScheduled), errors.Is(err, service.ErrNotScheduled):
		errorJSON(c, http.StatusConflict, err.Error())
	default:
		s.logger.Error("error updating subscription", "owner_id", c.Param("ownerID"), "error", err)
		errorJSON(c, http.StatusBadGateway, "failed to update subscription")
	}
}
