package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/wenwu/saas-platform/gamehost-service/internal/repository"
	"github.com/wenwu/saas-platform/gamehost-service/internal/service"
)

// AdminHandler serves capacity and audit queries for operators: how full the
// port range is, how loaded each region pool is, and a server's provisioning
// history.
type AdminHandler struct {
	serverService *service.ServerService
	logRepo       *repository.LogRepository
}

func NewAdminHandler(serverService *service.ServerService, logRepo *repository.LogRepository) *AdminHandler {
	return &AdminHandler{serverService: serverService, logRepo: logRepo}
}

// PortUtilization reports allocation pressure on the configured port range.
func (h *AdminHandler) PortUtilization(c *gin.Context) {
	resp, err := h.serverService.PortUtilization(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// RegionCapacity reports pool size and active servers per region.
func (h *AdminHandler) RegionCapacity(c *gin.Context) {
	resp, err := h.serverService.Regions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ServerLogs returns the audit trail of one server.
func (h *AdminHandler) ServerLogs(c *gin.Context) {
	serverID := c.Param("id")
	if serverID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "server id required"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	logs, err := h.logRepo.GetByServerID(c.Request.Context(), serverID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs})
}
