package models

import (
	"time"
)

// Server status constants. A port is considered held while the server is in
// provisioning or running; stopped and deleted rows release it.
const (
	StatusProvisioning = "provisioning"
	StatusRunning      = "running"
	StatusStopped      = "stopped"
	StatusDeleted      = "deleted"
)

// GameServer is the persisted record of a provisioned game server.
// SecretHash and PanelTokenHash are bcrypt hashes; the plaintext credentials
// exist only inside the provisioning call and its single response.
type GameServer struct {
	ID             string
	OwnerID        string
	Name           string
	IP             string
	Port           int
	MemoryMB       int
	DiskMB         int
	VersionTag     string
	Status         string
	Region         string
	PanelURL       string
	SecretHash     *string
	PanelTokenHash *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// PortHeld reports whether this server currently holds its (ip, port) pair.
func (s *GameServer) PortHeld() bool {
	return s.Status == StatusProvisioning || s.Status == StatusRunning
}
