package models

import "time"

// ProvisionLog is one persisted audit entry for a server's lifecycle.
type ProvisionLog struct {
	ID        string
	ServerID  string
	Action    string
	Status    string
	Message   string
	Metadata  map[string]interface{}
	CreatedAt time.Time
}
