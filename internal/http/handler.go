package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/gamehost-service/internal/models"
	"github.com/wenwu/saas-platform/gamehost-service/internal/provision"
	"github.com/wenwu/saas-platform/gamehost-service/internal/service"
)

type Handler struct {
	serverService *service.ServerService
}

func NewHandler(serverService *service.ServerService) *Handler {
	return &Handler{serverService: serverService}
}

// statusFor maps the engine's typed failures to response codes: caller errors
// are 400, capacity exhaustion is 503 (retry later, possibly elsewhere), and
// everything internal is 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, provision.ErrInvalidSpec):
		return http.StatusBadRequest
	case errors.Is(err, provision.ErrRegionCapacityExhausted),
		errors.Is(err, provision.ErrPortSpaceExhausted):
		return http.StatusServiceUnavailable
	case service.IsNotFound(err):
		return http.StatusNotFound
	default:
		// Entropy and persistence failures included.
		return http.StatusInternalServerError
	}
}

// ==================== Internal API Handlers ====================

// Provision handles provisioning requests from the subscription service. The
// owner id comes from the trusted caller, not the spec body.
func (h *Handler) Provision(c *gin.Context) {
	ownerID := c.GetHeader("X-Owner-ID")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Owner-ID header required"})
		return
	}

	var spec models.ProvisionSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.serverService.Provision(c.Request.Context(), ownerID, spec)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Deprovision handles teardown requests from the subscription service.
func (h *Handler) Deprovision(c *gin.Context) {
	var req models.DeprovisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.serverService.Deprovision(c.Request.Context(), &req)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetServerStatus gets server status by ID (internal, unscoped).
func (h *Handler) GetServerStatus(c *gin.Context) {
	serverID := c.Param("id")
	if serverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server id required"})
		return
	}

	resp, err := h.serverService.GetInternalStatus(c.Request.Context(), serverID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "server not found"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// ==================== User API Handlers ====================

// CreateMyServer provisions a server for the authenticated tenant.
func (h *Handler) CreateMyServer(c *gin.Context) {
	ownerID := c.GetString("ownerID")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var spec models.ProvisionSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.serverService.Provision(c.Request.Context(), ownerID, spec)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// GetMyServers lists the tenant's servers. Secrets are never part of this
// shape.
func (h *Handler) GetMyServers(c *gin.Context) {
	ownerID := c.GetString("ownerID")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	resp, err := h.serverService.ListServers(c.Request.Context(), ownerID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"servers": resp})
}

// GetMyServer returns one of the tenant's servers.
func (h *Handler) GetMyServer(c *gin.Context) {
	ownerID := c.GetString("ownerID")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	resp, err := h.serverService.GetServer(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": "server not found"})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// DeleteMyServer marks one of the tenant's servers deleted.
func (h *Handler) DeleteMyServer(c *gin.Context) {
	ownerID := c.GetString("ownerID")
	if ownerID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	resp, err := h.serverService.DeleteServer(c.Request.Context(), ownerID, c.Param("id"), "user initiated deletion")
	if err != nil {
		if service.IsNotFound(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "server not found"})
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetRegions lists the configured regions with free capacity.
func (h *Handler) GetRegions(c *gin.Context) {
	resp, err := h.serverService.Regions(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
