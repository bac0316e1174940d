package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/wenwu/saas-platform/gamehost-service/internal/models"
)

func newTestOrchestrator(store *fakeStore) *Orchestrator {
	o := NewOrchestrator(testConfig(), testPools(), store)
	o.ports = NewPortAllocator(testConfig(), store, freeProbe)
	o.hashCost = bcrypt.MinCost
	return o
}

func validSpec() models.ProvisionSpec {
	return models.ProvisionSpec{
		Name:       "Test",
		MemoryMB:   4096,
		DiskMB:     51200,
		VersionTag: "1.21",
	}
}

func TestProvisionHappyPath(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store)

	result, err := o.Provision(context.Background(), "42", validSpec())
	require.NoError(t, err)

	server := result.Server
	assert.Equal(t, models.StatusProvisioning, server.Status)
	assert.Equal(t, "42", server.OwnerID)
	assert.GreaterOrEqual(t, server.Port, 25500)
	assert.LessOrEqual(t, server.Port, 25563)
	assert.NotEmpty(t, server.Region)
	assert.NotEmpty(t, server.IP)
	assert.Equal(t, "https://panel.example.com/servers/"+server.ID, server.PanelURL)

	require.Len(t, result.AccessSecret, 16)
	assert.True(t, strings.ContainsAny(result.AccessSecret, upperChars))
	assert.True(t, strings.ContainsAny(result.AccessSecret, lowerChars))
	assert.True(t, strings.ContainsAny(result.AccessSecret, digitChars))
	assert.True(t, strings.ContainsAny(result.AccessSecret, symbolChars))
	assert.NotEmpty(t, result.PanelToken)

	// The row holds bcrypt hashes that verify against the one-time plaintext,
	// never the plaintext itself.
	row := store.get(server.ID)
	require.NotNil(t, row)
	require.NotNil(t, row.SecretHash)
	require.NotNil(t, row.PanelTokenHash)
	assert.NotContains(t, *row.SecretHash, result.AccessSecret)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*row.SecretHash), []byte(result.AccessSecret)))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(*row.PanelTokenHash), []byte(result.PanelToken)))
}

func TestProvisionBounds(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store)
	ctx := context.Background()

	cases := []struct {
		name    string
		mutate  func(*models.ProvisionSpec)
		invalid bool
	}{
		{"memory at minimum", func(s *models.ProvisionSpec) { s.MemoryMB = 1024 }, false},
		{"memory at maximum", func(s *models.ProvisionSpec) { s.MemoryMB = 16384 }, false},
		{"memory below minimum", func(s *models.ProvisionSpec) { s.MemoryMB = 1023 }, true},
		{"memory above maximum", func(s *models.ProvisionSpec) { s.MemoryMB = 16385 }, true},
		{"disk at minimum", func(s *models.ProvisionSpec) { s.DiskMB = 5120 }, false},
		{"disk at maximum", func(s *models.ProvisionSpec) { s.DiskMB = 204800 }, false},
		{"disk below minimum", func(s *models.ProvisionSpec) { s.DiskMB = 5119 }, true},
		{"disk above maximum", func(s *models.ProvisionSpec) { s.DiskMB = 204801 }, true},
		{"empty name", func(s *models.ProvisionSpec) { s.Name = "" }, true},
		{"name too long", func(s *models.ProvisionSpec) { s.Name = strings.Repeat("x", 65) }, true},
		{"empty version tag", func(s *models.ProvisionSpec) { s.VersionTag = "" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			spec := validSpec()
			tc.mutate(&spec)
			_, err := o.Provision(ctx, "42", spec)
			if tc.invalid {
				assert.ErrorIs(t, err, ErrInvalidSpec)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := o.Provision(ctx, "", validSpec())
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestProvisionRegionExhaustionPropagates(t *testing.T) {
	store := newFakeStore()
	store.seedActive("a", 25500, "eu-west")
	store.seedActive("b", 25501, "eu-west")
	o := newTestOrchestrator(store)

	spec := validSpec()
	spec.PreferredRegion = "eu-west"
	_, err := o.Provision(context.Background(), "42", spec)
	assert.ErrorIs(t, err, ErrRegionCapacityExhausted)
	assert.Equal(t, 2, store.count(), "no row may be created on region failure")
}

func TestProvisionPortExhaustionPropagates(t *testing.T) {
	cfg := testConfig()
	cfg.PortMin = 25500
	cfg.PortMax = 25500
	store := newFakeStore()
	store.seedActive("holder", 25500, "us-east")
	o := NewOrchestrator(cfg, testPools(), store)
	o.ports = NewPortAllocator(cfg, store, freeProbe)
	o.hashCost = bcrypt.MinCost

	_, err := o.Provision(context.Background(), "42", validSpec())
	assert.ErrorIs(t, err, ErrPortSpaceExhausted)
	assert.Equal(t, 1, store.count(), "failed attempt must not leave a row behind")
}

type failingSecrets struct{}

func (failingSecrets) Generate(int, CharClass) (string, error) {
	return "", ErrEntropyUnavailable
}

func (failingSecrets) GenerateToken(int) (string, error) {
	return "", ErrEntropyUnavailable
}

func TestProvisionRollsBackOnSecretFailure(t *testing.T) {
	// Port allocation succeeds (the row is committed), then secret generation
	// fails; the compensating delete must leave no row behind.
	store := newFakeStore()
	o := newTestOrchestrator(store)
	o.secrets = failingSecrets{}

	_, err := o.Provision(context.Background(), "42", validSpec())
	assert.ErrorIs(t, err, ErrEntropyUnavailable)
	assert.Zero(t, store.count(), "partially provisioned row must be rolled back")
}

func TestProvisionRollsBackOnHashStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.setSecretsErr = errors.New("connection reset")
	o := newTestOrchestrator(store)

	_, err := o.Provision(context.Background(), "42", validSpec())
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.Zero(t, store.count())
}

func TestProvisionRollbackFailureKeepsOriginalError(t *testing.T) {
	store := newFakeStore()
	store.setSecretsErr = errors.New("connection reset")
	store.deleteErr = errors.New("still down")
	o := newTestOrchestrator(store)

	_, err := o.Provision(context.Background(), "42", validSpec())
	var pErr *PersistenceError
	require.ErrorAs(t, err, &pErr, "the rollback failure must not mask the original error")
	assert.Equal(t, "store credential hashes", pErr.Op)
}

func TestProvisionConcurrentCallsGetDistinctPorts(t *testing.T) {
	store := newFakeStore()

	const n = 16
	// A pool wide enough that region capacity is not the limiting factor.
	pools := map[string][]string{"us-east": make([]string, n)}
	for i := range pools["us-east"] {
		pools["us-east"][i] = fmt.Sprintf("10.10.0.%d", 10+i)
	}

	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Separate engine instances sharing one store, as in a scaled-out
			// deployment.
			o := NewOrchestrator(testConfig(), pools, store)
			o.ports = NewPortAllocator(testConfig(), store, freeProbe)
			o.hashCost = bcrypt.MinCost
			results[i], errs[i] = o.Provision(context.Background(), "42", validSpec())
		}(i)
	}
	wg.Wait()

	ports := make(map[int]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		port := results[i].Server.Port
		assert.False(t, ports[port], "port %d returned to two callers", port)
		ports[port] = true
	}
	assert.Equal(t, n, store.count())
}

func TestProvisionSecretsNotRetainedOnServerStruct(t *testing.T) {
	store := newFakeStore()
	o := newTestOrchestrator(store)

	result, err := o.Provision(context.Background(), "42", validSpec())
	require.NoError(t, err)

	// The stored row and the returned server expose hashes only.
	row := store.get(result.Server.ID)
	assert.NotEqual(t, result.AccessSecret, *row.SecretHash)
	assert.NotEqual(t, result.PanelToken, *row.PanelTokenHash)
}
