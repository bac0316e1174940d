package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/wenwu/saas-platform/gamehost-service/internal/config"
	"github.com/wenwu/saas-platform/gamehost-service/internal/models"
	"github.com/wenwu/saas-platform/gamehost-service/internal/provision"
	"github.com/wenwu/saas-platform/gamehost-service/internal/repository"
)

// ErrNotOwner is returned when a tenant touches a server it does not own.
// Surfaced as not-found so the API does not leak other tenants' server ids.
var ErrNotOwner = errors.New("server not owned by caller")

type provisioner interface {
	Provision(ctx context.Context, ownerID string, spec models.ProvisionSpec) (*provision.Result, error)
}

type serverStore interface {
	GetByID(ctx context.Context, id string) (*models.GameServer, error)
	GetByOwner(ctx context.Context, ownerID string) ([]*models.GameServer, error)
	MarkDeleted(ctx context.Context, id string) error
	CountActiveByRegion(ctx context.Context) (map[string]int, error)
	CountAllocatedPorts(ctx context.Context, min, max int) (int, error)
}

type auditLog interface {
	LogAction(ctx context.Context, serverID, action, status, message string) error
}

// ServerService is the request-facing wrapper around the provisioning engine:
// it runs the engine, writes the audit trail, and serves ownership-scoped
// reads and deletion.
type ServerService struct {
	cfg    *config.Config
	engine provisioner
	store  serverStore
	logs   auditLog
}

func NewServerService(cfg *config.Config, engine provisioner, store serverStore, logs auditLog) *ServerService {
	return &ServerService{
		cfg:    cfg,
		engine: engine,
		store:  store,
		logs:   logs,
	}
}

// Provision creates a server for the authenticated owner. The response is the
// only place the access secret and panel token ever appear.
func (s *ServerService) Provision(ctx context.Context, ownerID string, spec models.ProvisionSpec) (*models.ProvisionResponse, error) {
	log.Printf("[Provision] Starting provisioning for owner=%s region=%q version=%s", ownerID, spec.PreferredRegion, spec.VersionTag)

	result, err := s.engine.Provision(ctx, ownerID, spec)
	if err != nil {
		log.Printf("[Provision] Provisioning failed for owner=%s: %v", ownerID, err)
		return nil, err
	}

	server := result.Server
	if logErr := s.logs.LogAction(ctx, server.ID, "provisioned", server.Status,
		fmt.Sprintf("Server provisioned in %s on port %d", server.Region, server.Port)); logErr != nil {
		log.Printf("[Provision] Failed to write audit log for %s: %v", server.ID, logErr)
	}

	log.Printf("[Provision] Server %s ready: region=%s port=%d", server.ID, server.Region, server.Port)

	return &models.ProvisionResponse{
		ResourceID:   server.ID,
		IPAddress:    server.IP,
		Port:         server.Port,
		Region:       server.Region,
		PanelURL:     server.PanelURL,
		Status:       server.Status,
		AccessSecret: result.AccessSecret,
		PanelToken:   result.PanelToken,
	}, nil
}

// GetServer returns one server, scoped to its owner.
func (s *ServerService) GetServer(ctx context.Context, ownerID, serverID string) (*models.ServerResponse, error) {
	server, err := s.store.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return toServerResponse(server), nil
}

// ListServers returns the owner's non-deleted servers, newest first.
func (s *ServerService) ListServers(ctx context.Context, ownerID string) ([]*models.ServerResponse, error) {
	servers, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ServerResponse, 0, len(servers))
	for _, server := range servers {
		out = append(out, toServerResponse(server))
	}
	return out, nil
}

// DeleteServer marks the owner's server deleted, releasing its port and
// address slot through the status change.
func (s *ServerService) DeleteServer(ctx context.Context, ownerID, serverID, reason string) (*models.DeprovisionResponse, error) {
	server, err := s.store.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if server.OwnerID != ownerID {
		return nil, ErrNotOwner
	}
	return s.deprovision(ctx, server, reason)
}

// Deprovision is the internal (subscription-driven) teardown path; it skips
// the ownership check because the caller is a trusted service.
func (s *ServerService) Deprovision(ctx context.Context, req *models.DeprovisionRequest) (*models.DeprovisionResponse, error) {
	server, err := s.store.GetByID(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	return s.deprovision(ctx, server, req.Reason)
}

func (s *ServerService) deprovision(ctx context.Context, server *models.GameServer, reason string) (*models.DeprovisionResponse, error) {
	if server.Status == models.StatusDeleted {
		return &models.DeprovisionResponse{
			ResourceID: server.ID,
			Status:     server.Status,
			Message:    "Server already deleted",
		}, nil
	}

	if err := s.store.MarkDeleted(ctx, server.ID); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "unspecified"
	}
	if logErr := s.logs.LogAction(ctx, server.ID, "deprovisioned", models.StatusDeleted,
		fmt.Sprintf("Server deleted, port %d released. Reason: %s", server.Port, reason)); logErr != nil {
		log.Printf("[Deprovision] Failed to write audit log for %s: %v", server.ID, logErr)
	}

	log.Printf("[Deprovision] Server %s deleted (port %d released)", server.ID, server.Port)

	return &models.DeprovisionResponse{
		ResourceID: server.ID,
		Status:     models.StatusDeleted,
		Message:    "Server deleted",
	}, nil
}

// GetInternalStatus returns a server without ownership scoping, for the
// internal API.
func (s *ServerService) GetInternalStatus(ctx context.Context, serverID string) (*models.ServerResponse, error) {
	server, err := s.store.GetByID(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return toServerResponse(server), nil
}

// Regions lists the configured region pools with live utilization.
func (s *ServerService) Regions(ctx context.Context) (*models.RegionListResponse, error) {
	counts, err := s.store.CountActiveByRegion(ctx)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(s.cfg.Regions))
	for code := range s.cfg.Regions {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	resp := &models.RegionListResponse{}
	for _, code := range codes {
		poolSize := len(s.cfg.Regions[code])
		free := poolSize - counts[code]
		if free < 0 {
			free = 0
		}
		resp.Regions = append(resp.Regions, models.RegionInfo{
			Code:          code,
			PoolSize:      poolSize,
			ActiveServers: counts[code],
			FreeSlots:     free,
		})
	}
	return resp, nil
}

// PortUtilization summarizes allocation pressure on the configured range.
func (s *ServerService) PortUtilization(ctx context.Context) (*models.PortUtilization, error) {
	p := s.cfg.Provisioning
	allocated, err := s.store.CountAllocatedPorts(ctx, p.PortMin, p.PortMax)
	if err != nil {
		return nil, err
	}

	size := p.PortMax - p.PortMin + 1
	usable := size - len(p.ReservedPorts)
	used := 0.0
	if usable > 0 {
		used = float64(allocated) / float64(usable) * 100
	}

	return &models.PortUtilization{
		RangeMin:    p.PortMin,
		RangeMax:    p.PortMax,
		Reserved:    len(p.ReservedPorts),
		Allocated:   allocated,
		UsedPercent: used,
	}, nil
}

// IsNotFound reports whether err should surface as a 404.
func IsNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound) || errors.Is(err, ErrNotOwner)
}

func toServerResponse(server *models.GameServer) *models.ServerResponse {
	resp := &models.ServerResponse{
		ResourceID: server.ID,
		OwnerID:    server.OwnerID,
		Name:       server.Name,
		IPAddress:  server.IP,
		Port:       server.Port,
		MemoryMB:   server.MemoryMB,
		DiskMB:     server.DiskMB,
		VersionTag: server.VersionTag,
		Status:     server.Status,
		Region:     server.Region,
		PanelURL:   server.PanelURL,
		CreatedAt:  server.CreatedAt.Format(time.RFC3339),
	}
	if server.DeletedAt != nil {
		deletedAt := server.DeletedAt.Format(time.RFC3339)
		resp.DeletedAt = &deletedAt
	}
	return resp
}
