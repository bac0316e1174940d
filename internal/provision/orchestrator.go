package provision

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/wenwu/saas-platform/gamehost-service/internal/config"
	"github.com/wenwu/saas-platform/gamehost-service/internal/models"
)

// panelTokenBytes is the randomness behind a panel token (256 bits, encoded
// URL-safe).
const panelTokenBytes = 32

// Store is the persistence collaborator of the orchestrator. CreateServer
// must enforce port uniqueness among active rows and return ErrPortTaken when
// a concurrent writer holds the candidate; that signal is what closes the
// check-then-reserve race.
type Store interface {
	PortStore
	RegionStore
	CreateServer(ctx context.Context, server *models.GameServer) error
	SetServerSecrets(ctx context.Context, id, secretHash, panelTokenHash string) error
	DeleteServer(ctx context.Context, id string) error
}

// secretSource lets tests substitute a failing generator; production always
// uses SecretGenerator.
type secretSource interface {
	Generate(length int, classes CharClass) (string, error)
	GenerateToken(numBytes int) (string, error)
}

// Result carries the provisioned record plus the credentials that exist only
// in this one value. Nothing in the engine retains them after returning.
type Result struct {
	Server       *models.GameServer
	AccessSecret string
	PanelToken   string
}

// Orchestrator composes region assignment, port allocation, and secret
// generation into one provisioning call. It holds no cross-call state; all
// shared state lives in the Store, which may back any number of concurrent
// engine instances.
type Orchestrator struct {
	cfg      config.ProvisioningConfig
	store    Store
	regions  *RegionAssigner
	ports    *PortAllocator
	secrets  secretSource
	hashCost int
}

func NewOrchestrator(cfg config.ProvisioningConfig, pools map[string][]string, store Store) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		store:    store,
		regions:  NewRegionAssigner(pools, store),
		ports:    NewPortAllocator(cfg, store, nil),
		secrets:  NewSecretGenerator(),
		hashCost: bcrypt.DefaultCost,
	}
}

// Provision turns a validated spec into a credentialed, conflict-free server
// record. The row insert is the constrained write that reserves the port;
// any later failure compensates by deleting the row so a failed attempt never
// leaves an orphaned reservation.
func (o *Orchestrator) Provision(ctx context.Context, ownerID string, spec models.ProvisionSpec) (*Result, error) {
	if err := o.validate(ownerID, spec); err != nil {
		return nil, err
	}

	assignment, err := o.regions.Assign(ctx, spec.PreferredRegion)
	if err != nil {
		return nil, err
	}

	server := &models.GameServer{
		ID:         uuid.New().String(),
		OwnerID:    ownerID,
		Name:       spec.Name,
		IP:         assignment.IP,
		MemoryMB:   spec.MemoryMB,
		DiskMB:     spec.DiskMB,
		VersionTag: spec.VersionTag,
		Status:     models.StatusProvisioning,
		Region:     assignment.Region,
	}
	server.PanelURL = fmt.Sprintf("%s/servers/%s", strings.TrimRight(o.cfg.PanelBaseURL, "/"), server.ID)

	port, err := o.ports.Allocate(ctx, func(ctx context.Context, port int) error {
		server.Port = port
		if err := o.store.CreateServer(ctx, server); err != nil {
			if errors.Is(err, ErrPortTaken) {
				return err
			}
			return &PersistenceError{Op: "create server", Err: err}
		}
		return nil
	})
	if err != nil {
		// Nothing was committed; the region slot is only counted through
		// persisted rows, so there is no partial reservation to release.
		return nil, err
	}
	server.Port = port

	result, err := o.issueCredentials(ctx, server)
	if err != nil {
		o.rollback(ctx, server.ID, err)
		return nil, err
	}
	return result, nil
}

// issueCredentials generates and stores the hashed credentials for a freshly
// inserted row. The plaintext lives only in this frame and the returned
// Result.
func (o *Orchestrator) issueCredentials(ctx context.Context, server *models.GameServer) (*Result, error) {
	secret, err := o.secrets.Generate(o.cfg.SecretLength, AllClasses)
	if err != nil {
		return nil, err
	}
	token, err := o.secrets.GenerateToken(panelTokenBytes)
	if err != nil {
		return nil, err
	}

	secretHash, err := bcrypt.GenerateFromPassword([]byte(secret), o.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash access secret: %w", err)
	}
	tokenHash, err := bcrypt.GenerateFromPassword([]byte(token), o.hashCost)
	if err != nil {
		return nil, fmt.Errorf("hash panel token: %w", err)
	}

	if err := o.store.SetServerSecrets(ctx, server.ID, string(secretHash), string(tokenHash)); err != nil {
		return nil, &PersistenceError{Op: "store credential hashes", Err: err}
	}

	sh, th := string(secretHash), string(tokenHash)
	server.SecretHash = &sh
	server.PanelTokenHash = &th

	return &Result{Server: server, AccessSecret: secret, PanelToken: token}, nil
}

// rollback deletes a partially created row. It runs even when the invoking
// request was already cancelled, so an abandoned call does not leave a port
// reserved. Its own failure is logged but never masks the error that
// triggered it.
func (o *Orchestrator) rollback(ctx context.Context, id string, cause error) {
	log.Printf("[Provision] Rolling back server %s after failure: %v", id, cause)
	if err := o.store.DeleteServer(context.WithoutCancel(ctx), id); err != nil {
		log.Printf("[Provision] Rollback of server %s failed, row may need manual cleanup: %v", id, err)
	}
}

// validate re-checks spec bounds as defense in depth; the HTTP layer already
// binds required fields.
func (o *Orchestrator) validate(ownerID string, spec models.ProvisionSpec) error {
	if ownerID == "" {
		return fmt.Errorf("%w: missing owner id", ErrInvalidSpec)
	}
	if spec.Name == "" || len(spec.Name) > o.cfg.NameMaxLen {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidSpec, o.cfg.NameMaxLen)
	}
	if spec.MemoryMB < o.cfg.MemoryMinMB || spec.MemoryMB > o.cfg.MemoryMaxMB {
		return fmt.Errorf("%w: memory_mb %d outside %d-%d", ErrInvalidSpec, spec.MemoryMB, o.cfg.MemoryMinMB, o.cfg.MemoryMaxMB)
	}
	if spec.DiskMB < o.cfg.DiskMinMB || spec.DiskMB > o.cfg.DiskMaxMB {
		return fmt.Errorf("%w: disk_mb %d outside %d-%d", ErrInvalidSpec, spec.DiskMB, o.cfg.DiskMinMB, o.cfg.DiskMaxMB)
	}
	if spec.VersionTag == "" {
		return fmt.Errorf("%w: missing version_tag", ErrInvalidSpec)
	}
	return nil
}
