package models

// ==================== Provisioning DTOs ====================

// ProvisionSpec is the caller-supplied description of the server to create.
// The owner identity never travels in this body; it comes from the
// authenticated request context.
type ProvisionSpec struct {
	Name            string `json:"name" binding:"required"`
	MemoryMB        int    `json:"memory_mb" binding:"required"`
	DiskMB          int    `json:"disk_mb" binding:"required"`
	VersionTag      string `json:"version_tag" binding:"required"`
	PreferredRegion string `json:"preferred_region,omitempty"`
}

// ProvisionResponse is returned exactly once, at creation time. AccessSecret
// and PanelToken are not retrievable through any later read.
type ProvisionResponse struct {
	ResourceID   string `json:"resource_id"`
	IPAddress    string `json:"ip_address"`
	Port         int    `json:"port"`
	Region       string `json:"region"`
	PanelURL     string `json:"panel_url"`
	Status       string `json:"status"`
	AccessSecret string `json:"access_secret"`
	PanelToken   string `json:"panel_token"`
}

// ServerResponse is the read shape of a server. It deliberately has no field
// for the access secret, the panel token, or their hashes.
type ServerResponse struct {
	ResourceID string  `json:"resource_id"`
	OwnerID    string  `json:"owner_id"`
	Name       string  `json:"name"`
	IPAddress  string  `json:"ip_address"`
	Port       int     `json:"port"`
	MemoryMB   int     `json:"memory_mb"`
	DiskMB     int     `json:"disk_mb"`
	VersionTag string  `json:"version_tag"`
	Status     string  `json:"status"`
	Region     string  `json:"region"`
	PanelURL   string  `json:"panel_url"`
	CreatedAt  string  `json:"created_at"`
	DeletedAt  *string `json:"deleted_at,omitempty"`
}

// DeprovisionRequest is sent by the subscription layer to tear a server down.
type DeprovisionRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
	Reason     string `json:"reason"`
}

// DeprovisionResponse is returned after a server is marked deleted.
type DeprovisionResponse struct {
	ResourceID string `json:"resource_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// ==================== Region DTOs ====================

// RegionInfo describes one region of the operator pool table together with
// its live utilization.
type RegionInfo struct {
	Code          string `json:"code"`
	PoolSize      int    `json:"pool_size"`
	ActiveServers int    `json:"active_servers"`
	FreeSlots     int    `json:"free_slots"`
}

// RegionListResponse is the list of configured regions.
type RegionListResponse struct {
	Regions []RegionInfo `json:"regions"`
}

// ==================== Admin DTOs ====================

// PortUtilization summarizes how much of the allocation range is in use.
type PortUtilization struct {
	RangeMin    int     `json:"range_min"`
	RangeMax    int     `json:"range_max"`
	Reserved    int     `json:"reserved"`
	Allocated   int     `json:"allocated"`
	UsedPercent float64 `json:"used_percent"`
}

// ProvisionLogEntry is one audit trail row for a server.
type ProvisionLogEntry struct {
	ID        string `json:"id"`
	ServerID  string `json:"server_id"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}
