package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Insecure default values (must never be used in production)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"internal-service-secret":              true,
	"":                                     true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Provisioning   ProvisioningConfig
	Regions        map[string][]string // region code -> assignable addresses
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// ProvisioningConfig holds every knob of the provisioning engine. The engine
// receives this struct at construction; nothing is read from the environment
// after startup.
type ProvisioningConfig struct {
	PortMin       int
	PortMax       int
	ReservedPorts []int
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffJitter time.Duration

	MemoryMinMB int
	MemoryMaxMB int
	DiskMinMB   int
	DiskMaxMB   int
	NameMaxLen  int

	SecretLength int
	PanelBaseURL string
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8012"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "saas_user"),
			Password: getEnv("DB_PASSWORD", "saas_pass"),
			DBName:   getEnv("DB_NAME", "saas_db"),
			Schema:   getEnv("DB_SCHEMA", "gamehost"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Provisioning: ProvisioningConfig{
			PortMin:       getEnvInt("PROVISION_PORT_MIN", 25500),
			PortMax:       getEnvInt("PROVISION_PORT_MAX", 26000),
			ReservedPorts: getEnvIntList("PROVISION_RESERVED_PORTS", []int{25565, 25575}),
			MaxAttempts:   getEnvInt("PROVISION_MAX_ATTEMPTS", 10),
			BackoffBase:   getEnvDuration("PROVISION_BACKOFF_BASE", 25*time.Millisecond),
			BackoffJitter: getEnvDuration("PROVISION_BACKOFF_JITTER", 50*time.Millisecond),
			MemoryMinMB:   getEnvInt("PROVISION_MEMORY_MIN_MB", 1024),
			MemoryMaxMB:   getEnvInt("PROVISION_MEMORY_MAX_MB", 16384),
			DiskMinMB:     getEnvInt("PROVISION_DISK_MIN_MB", 5120),
			DiskMaxMB:     getEnvInt("PROVISION_DISK_MAX_MB", 204800),
			NameMaxLen:    getEnvInt("PROVISION_NAME_MAX_LEN", 64),
			SecretLength:  getEnvInt("PROVISION_SECRET_LENGTH", 16),
			PanelBaseURL:  getEnv("PANEL_BASE_URL", "https://panel.example.com"),
		},
		Regions:        parseRegionPools(getEnv("REGION_POOLS", "us-east=10.10.0.10,10.10.0.11;eu-west=10.20.0.10")),
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// Do not log secrets here
	log.Printf("[config] Gamehost Service loaded: port=%s db=%s/%s.%s regions=%d port_range=%d-%d",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		len(cfg.Regions), cfg.Provisioning.PortMin, cfg.Provisioning.PortMax)

	return cfg
}

// Validate checks that the configuration is usable. Production deployments
// must set real secrets and a sane port range.
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	p := c.Provisioning
	if p.PortMin <= 0 || p.PortMax > 65535 || p.PortMin > p.PortMax {
		return fmt.Errorf("invalid port range %d-%d", p.PortMin, p.PortMax)
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("PROVISION_MAX_ATTEMPTS must be positive")
	}
	if p.MemoryMinMB <= 0 || p.MemoryMinMB > p.MemoryMaxMB {
		return fmt.Errorf("invalid memory bounds %d-%d MB", p.MemoryMinMB, p.MemoryMaxMB)
	}
	if p.DiskMinMB <= 0 || p.DiskMinMB > p.DiskMaxMB {
		return fmt.Errorf("invalid disk bounds %d-%d MB", p.DiskMinMB, p.DiskMaxMB)
	}
	if p.SecretLength < 8 {
		return fmt.Errorf("PROVISION_SECRET_LENGTH must be at least 8")
	}

	if len(c.Regions) == 0 {
		return fmt.Errorf("REGION_POOLS must define at least one region")
	}
	for code, addrs := range c.Regions {
		if len(addrs) == 0 {
			return fmt.Errorf("region %q has an empty address pool", code)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

// parseRegionPools parses "us-east=10.0.0.1,10.0.0.2;eu-west=10.1.0.1" into
// the region pool table. Malformed entries are skipped with a warning so a
// single typo does not take the whole table down.
func parseRegionPools(raw string) map[string][]string {
	pools := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, list, ok := strings.Cut(entry, "=")
		code = strings.TrimSpace(code)
		if !ok || code == "" {
			log.Printf("[config] Skipping malformed region pool entry: %q", entry)
			continue
		}
		var addrs []string
		for _, a := range strings.Split(list, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		if len(addrs) == 0 {
			log.Printf("[config] Region %q has no addresses, skipping", code)
			continue
		}
		pools[code] = addrs
	}
	return pools
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvIntList(key string, defaultValue []int) []int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
