package provision

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wenwu/saas-platform/gamehost-service/internal/config"
	"github.com/wenwu/saas-platform/gamehost-service/internal/models"
)

// fakeStore is an in-memory Store with real uniqueness semantics: CreateServer
// rejects a port held by an active row under a mutex, which is what the
// partial unique index does in Postgres. That makes it usable for genuine
// concurrency tests.
type fakeStore struct {
	mu      sync.Mutex
	servers map[string]*models.GameServer

	createErr     error
	setSecretsErr error
	portInUseErr  error
	countErr      error
	deleteErr     error

	// stalePortView makes PortInUse report free regardless of contents,
	// simulating bookkeeping that lags behind concurrent commits.
	stalePortView bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{servers: make(map[string]*models.GameServer)}
}

func (f *fakeStore) PortInUse(ctx context.Context, port int) (bool, error) {
	if f.portInUseErr != nil {
		return false, f.portInUseErr
	}
	if f.stalePortView {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.servers {
		if s.Port == port && s.PortHeld() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CountActiveByRegion(ctx context.Context) (map[string]int, error) {
	if f.countErr != nil {
		return nil, f.countErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[string]int)
	for _, s := range f.servers {
		if s.PortHeld() {
			counts[s.Region]++
		}
	}
	return counts, nil
}

func (f *fakeStore) CreateServer(ctx context.Context, server *models.GameServer) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.servers {
		if s.Port == server.Port && s.PortHeld() {
			return ErrPortTaken
		}
	}
	clone := *server
	clone.CreatedAt = time.Now()
	clone.UpdatedAt = clone.CreatedAt
	f.servers[server.ID] = &clone
	return nil
}

func (f *fakeStore) SetServerSecrets(ctx context.Context, id, secretHash, panelTokenHash string) error {
	if f.setSecretsErr != nil {
		return f.setSecretsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.servers[id]; ok {
		s.SecretHash = &secretHash
		s.PanelTokenHash = &panelTokenHash
	}
	return nil
}

func (f *fakeStore) DeleteServer(ctx context.Context, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.servers, id)
	return nil
}

func (f *fakeStore) get(id string) *models.GameServer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.servers[id]
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.servers)
}

func (f *fakeStore) seedActive(id string, port int, region string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[id] = &models.GameServer{
		ID:     id,
		Port:   port,
		Region: region,
		Status: models.StatusRunning,
	}
}

// testConfig is a provisioning config with a small port range and fast
// backoff, suitable for unit tests.
func testConfig() config.ProvisioningConfig {
	return config.ProvisioningConfig{
		PortMin:       25500,
		PortMax:       25563,
		MaxAttempts:   10,
		BackoffBase:   time.Millisecond,
		BackoffJitter: 2 * time.Millisecond,
		MemoryMinMB:   1024,
		MemoryMaxMB:   16384,
		DiskMinMB:     5120,
		DiskMaxMB:     204800,
		NameMaxLen:    64,
		SecretLength:  16,
		PanelBaseURL:  "https://panel.example.com",
	}
}

// freeProbe is a ProbeFunc that treats every port as free on the host, so
// tests do not touch the real network stack.
func freeProbe(int) bool { return true }

// activeServer is a minimal port-holding row for allocation tests.
func activeServer(port int) *models.GameServer {
	return &models.GameServer{
		ID:     uuid.New().String(),
		Port:   port,
		Region: "us-east",
		Status: models.StatusProvisioning,
	}
}
