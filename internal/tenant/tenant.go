package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"proxygate/internal/db"
)

// Tenant represents a resolved tenant from the database.
type Tenant struct {
	ID        string
	Name      string
	ConfigID  string            // "" = use global active config
	RateLimit int               // 0 = no tenant-level limit
	Settings  map[string]string // cached tenant_settings
}

type cachedTenant struct {
	tenant    *Tenant
	expiresAt time.Time
}

type cachedBool struct {
	value     bool
	expiresAt time.Time
}

var (
	cacheMu        sync.RWMutex
	tenantCache    = make(map[string]*cachedTenant)
	hasTenantsMu   sync.RWMutex
	hasTenantsCached *cachedBool
)

const cacheTTL = 30 * time.Second

// tenantClaims is the JWT claim shape for signed tenant keys, an alternative
// to a raw hashed key: a caller can be issued a token that resolves straight
// to a tenant ID without a DB round trip on the hash-lookup path.
type tenantClaims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

func jwtSecret() []byte {
	if s := os.Getenv("TENANT_JWT_SECRET"); s != "" {
		return []byte(s)
	}
	if s := db.GetSetting("tenant_jwt_secret"); s != "" {
		return []byte(s)
	}
	return nil
}

// resolveSignedKey attempts to verify rawAPIKey as an HS256 tenant JWT and,
// if valid, resolve the tenant it names. Returns nil, false when rawAPIKey
// isn't a JWT or no secret is configured, so callers fall back to hash lookup.
func resolveSignedKey(rawAPIKey string) (*TenantRow, bool) {
	if strings.Count(rawAPIKey, ".") != 2 {
		return nil, false
	}
	secret := jwtSecret()
	if secret == nil {
		return nil, false
	}

	var claims tenantClaims
	token, err := jwt.ParseWithClaims(rawAPIKey, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return secret, nil
	})
	if err != nil || !token.Valid || claims.TenantID == "" {
		return nil, false
	}

	row := db.GetTenantByID(claims.TenantID)
	if row == nil || !row.Enabled {
		return nil, false
	}
	return row, true
}

// Resolve looks up a tenant by raw API key: a signed JWT tenant key is tried
// first, falling back to hash lookup of a plain tenant key.
// Returns nil if no matching tenant found or if tenants table doesn't exist.
func Resolve(rawAPIKey string) *Tenant {
	hash := hashKey(rawAPIKey)

	cacheMu.RLock()
	if cached, ok := tenantCache[hash]; ok && time.Now().Before(cached.expiresAt) {
		cacheMu.RUnlock()
		if cached.tenant == nil {
			return nil
		}
		t := *cached.tenant
		settings := make(map[string]string, len(cached.tenant.Settings))
		for k, v := range cached.tenant.Settings {
			settings[k] = v
		}
		t.Settings = settings
		return &t
	}
	cacheMu.RUnlock()

	row, ok := resolveSignedKey(rawAPIKey)
	if !ok {
		row = db.GetTenantByKeyHash(hash)
	}
	if row == nil {
		cacheMu.Lock()
		tenantCache[hash] = &cachedTenant{tenant: nil, expiresAt: time.Now().Add(cacheTTL)}
		cacheMu.Unlock()
		return nil
	}

	settings := db.GetTenantSettings(row.ID)

	t := &Tenant{
		ID:        row.ID,
		Name:      row.Name,
		ConfigID:  row.ConfigID,
		RateLimit: row.RateLimit,
		Settings:  settings,
	}

	cacheMu.Lock()
	tenantCache[hash] = &cachedTenant{tenant: t, expiresAt: time.Now().Add(cacheTTL)}
	cacheMu.Unlock()

	result := *t
	settingsCopy := make(map[string]string, len(settings))
	for k, v := range settings {
		settingsCopy[k] = v
	}
	result.Settings = settingsCopy
	return &result
}

// GetSetting returns a tenant-specific setting, falling back to the global setting.
func GetSetting(t *Tenant, key string) string {
	if t != nil && t.Settings != nil {
		if v, ok := t.Settings[key]; ok {
			return v
		}
	}
	return db.GetSetting(key)
}

// HasTenants returns true if any tenants exist in the database.
func HasTenants() bool {
	hasTenantsMu.RLock()
	if hasTenantsCached != nil && time.Now().Before(hasTenantsCached.expiresAt) {
		val := hasTenantsCached.value
		hasTenantsMu.RUnlock()
		return val
	}
	hasTenantsMu.RUnlock()

	val := db.HasTenants()

	hasTenantsMu.Lock()
	hasTenantsCached = &cachedBool{value: val, expiresAt: time.Now().Add(cacheTTL)}
	hasTenantsMu.Unlock()

	return val
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
