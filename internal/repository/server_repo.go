package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wenwu/saas-platform/gamehost-service/internal/models"
	"github.com/wenwu/saas-platform/gamehost-service/internal/provision"
)

var ErrNotFound = errors.New("not found")

// uniqueViolation is the SQLSTATE Postgres raises when a constrained write
// loses a race; the allocator keys its retry on it.
const uniqueViolation = "23505"

// transientRetries bounds how often an Exec is re-sent when pgx marks the
// failure as safe to retry (connection reset before the statement ran).
const transientRetries = 2

type ServerRepository struct {
	pool *pgxpool.Pool
}

func NewServerRepository(pool *pgxpool.Pool) *ServerRepository {
	return &ServerRepository{pool: pool}
}

const serverColumns = `id, owner_id, name, ip, port, memory_mb, disk_mb, version_tag,
	   status, region, panel_url, secret_hash, panel_token_hash,
	   created_at, updated_at, deleted_at`

// CreateServer inserts a new server row. The partial unique index on port turns a
// concurrent double-allocation into provision.ErrPortTaken.
func (r *ServerRepository) CreateServer(ctx context.Context, s *models.GameServer) error {
	query := `
		INSERT INTO gamehost.servers (
			id, owner_id, name, ip, port, memory_mb, disk_mb, version_tag,
			status, region, panel_url, secret_hash, panel_token_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
	`

	err := r.exec(ctx, query,
		s.ID, s.OwnerID, s.Name, s.IP, s.Port, s.MemoryMB, s.DiskMB, s.VersionTag,
		s.Status, s.Region, s.PanelURL, s.SecretHash, s.PanelTokenHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "servers_port_active_key" {
			return provision.ErrPortTaken
		}
		return fmt.Errorf("insert server: %w", err)
	}

	return nil
}

// SetServerSecrets stores the bcrypt hashes for a freshly provisioned server.
// Plaintext credentials never reach this layer.
func (r *ServerRepository) SetServerSecrets(ctx context.Context, id, secretHash, panelTokenHash string) error {
	query := `UPDATE gamehost.servers SET secret_hash = $1, panel_token_hash = $2, updated_at = now() WHERE id = $3`
	if err := r.exec(ctx, query, secretHash, panelTokenHash, id); err != nil {
		return fmt.Errorf("set server secrets: %w", err)
	}
	return nil
}

// DeleteServer removes a row outright. Used by the engine's compensating
// rollback; user-facing deletion goes through MarkDeleted instead.
func (r *ServerRepository) DeleteServer(ctx context.Context, id string) error {
	if err := r.exec(ctx, `DELETE FROM gamehost.servers WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	return nil
}

// MarkDeleted releases the server's port by taking it out of the active
// status set covered by the unique index.
func (r *ServerRepository) MarkDeleted(ctx context.Context, id string) error {
	query := `
		UPDATE gamehost.servers
		SET status = $1, deleted_at = now(), updated_at = now()
		WHERE id = $2 AND deleted_at IS NULL
	`
	if err := r.exec(ctx, query, models.StatusDeleted, id); err != nil {
		return fmt.Errorf("mark server deleted: %w", err)
	}
	return nil
}

// UpdateStatus moves a server through its lifecycle.
func (r *ServerRepository) UpdateStatus(ctx context.Context, id, status string) error {
	query := `UPDATE gamehost.servers SET status = $1, updated_at = now() WHERE id = $2`
	if err := r.exec(ctx, query, status, id); err != nil {
		return fmt.Errorf("update server status: %w", err)
	}
	return nil
}

// PortInUse reports whether an active server already holds the port.
func (r *ServerRepository) PortInUse(ctx context.Context, port int) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM gamehost.servers
			WHERE port = $1 AND status IN ($2, $3)
		)
	`
	var inUse bool
	err := r.pool.QueryRow(ctx, query, port, models.StatusProvisioning, models.StatusRunning).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("port lookup: %w", err)
	}
	return inUse, nil
}

// CountActiveByRegion feeds the region assigner's load spreading.
func (r *ServerRepository) CountActiveByRegion(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT region, COUNT(*) FROM gamehost.servers
		WHERE status IN ($1, $2)
		GROUP BY region
	`
	rows, err := r.pool.Query(ctx, query, models.StatusProvisioning, models.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("count by region: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var region string
		var n int
		if err := rows.Scan(&region, &n); err != nil {
			return nil, fmt.Errorf("scan region count: %w", err)
		}
		counts[region] = n
	}
	return counts, rows.Err()
}

// CountAllocatedPorts reports how many ports of the range are currently held.
func (r *ServerRepository) CountAllocatedPorts(ctx context.Context, min, max int) (int, error) {
	query := `
		SELECT COUNT(*) FROM gamehost.servers
		WHERE port BETWEEN $1 AND $2 AND status IN ($3, $4)
	`
	var n int
	err := r.pool.QueryRow(ctx, query, min, max, models.StatusProvisioning, models.StatusRunning).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count allocated ports: %w", err)
	}
	return n, nil
}

// GetByID retrieves a server by ID.
func (r *ServerRepository) GetByID(ctx context.Context, id string) (*models.GameServer, error) {
	query := `SELECT ` + serverColumns + ` FROM gamehost.servers WHERE id = $1`
	return r.scanServer(r.pool.QueryRow(ctx, query, id))
}

// GetByOwner retrieves all non-deleted servers of a tenant, newest first.
func (r *ServerRepository) GetByOwner(ctx context.Context, ownerID string) ([]*models.GameServer, error) {
	query := `
		SELECT ` + serverColumns + `
		FROM gamehost.servers
		WHERE owner_id = $1 AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query servers: %w", err)
	}
	defer rows.Close()

	var servers []*models.GameServer
	for rows.Next() {
		s, err := r.scanServerRow(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// exec runs a statement, retrying a bounded number of times when the driver
// reports the failure as safe to retry. Constraint violations are returned
// immediately.
func (r *ServerRepository) exec(ctx context.Context, query string, args ...any) error {
	var err error
	for attempt := 0; attempt <= transientRetries; attempt++ {
		_, err = r.pool.Exec(ctx, query, args...)
		if err == nil || !pgconn.SafeToRetry(err) {
			return err
		}
	}
	return err
}

func (r *ServerRepository) scanServer(row pgx.Row) (*models.GameServer, error) {
	s := &models.GameServer{}
	err := row.Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.IP, &s.Port, &s.MemoryMB, &s.DiskMB, &s.VersionTag,
		&s.Status, &s.Region, &s.PanelURL, &s.SecretHash, &s.PanelTokenHash,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan server: %w", err)
	}
	return s, nil
}

func (r *ServerRepository) scanServerRow(rows pgx.Rows) (*models.GameServer, error) {
	s := &models.GameServer{}
	err := rows.Scan(
		&s.ID, &s.OwnerID, &s.Name, &s.IP, &s.Port, &s.MemoryMB, &s.DiskMB, &s.VersionTag,
		&s.Status, &s.Region, &s.PanelURL, &s.SecretHash, &s.PanelTokenHash,
		&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan server row: %w", err)
	}
	return s, nil
}
