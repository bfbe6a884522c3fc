// Package license implements sirr's admission control: a free tier capped
// at a configurable number of secrets, liftable by a valid license key.
//
// Two validation modes exist. Offline mode checks the key's own checksum
// and never touches the network. Online mode additionally asks a license
// server to confirm the key, caching the result so a transient outage
// does not downgrade a previously-valid license back to the free tier.
package license

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/SirrVault/sirr/pkg/log"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrQuotaExceeded is returned by Gate.AllowCreate when the free tier is
// full and no valid license lifts the cap.
var ErrQuotaExceeded = errors.New("license: free tier quota exceeded")

const offlinePrefix = "lic_"

// offlineKeyBodyLen is the length of the part after lic_: 40 hex
// characters, 32 of key material and 8 of a CRC32 checksum over them.
const offlineKeyBodyLen = 40

// validateOfflineKey reports whether key has the shape and checksum of a
// well-formed offline license key. It never contacts the network.
func validateOfflineKey(key string) bool {
	if !strings.HasPrefix(key, offlinePrefix) {
		return false
	}
	body := strings.TrimPrefix(key, offlinePrefix)
	if len(body) != offlineKeyBodyLen {
		return false
	}
	if _, err := hex.DecodeString(body); err != nil {
		return false
	}

	material := body[:32]
	wantChecksum := body[32:]
	sum := crc32.ChecksumIEEE([]byte(material))
	gotChecksum := fmt.Sprintf("%08x", sum)
	return gotChecksum == wantChecksum
}

// ValidationRequest is sent to the license server in online mode.
type ValidationRequest struct {
	LicenseKey string `json:"license_key"`
	InstanceID string `json:"instance_id"`
}

// ValidationResponse is the license server's reply.
type ValidationResponse struct {
	Valid           bool     `json:"valid"`
	Tier            string   `json:"tier"`
	Features        []string `json:"features"`
	ExpiresAt       string   `json:"expires_at"`
	GracePeriodDays int      `json:"grace_period_days"`
}

// CachedLicense is the last online validation result, plus the grace
// window during which it is still trusted if the server becomes
// unreachable.
type CachedLicense struct {
	Valid      bool
	ExpiresAt  time.Time
	CachedAt   time.Time
	GraceUntil time.Time
}

// IsValid reports whether the cached result is still usable at now:
// either the server's expiry hasn't passed, or we're still inside the
// grace period granted after it.
func (c *CachedLicense) IsValid(now time.Time) bool {
	if c == nil {
		return false
	}
	if now.Before(c.ExpiresAt) {
		return c.Valid
	}
	return now.Before(c.GraceUntil) && c.Valid
}

// ClientConfig configures online license validation.
type ClientConfig struct {
	ServerURL  string
	LicenseKey string
	Timeout    time.Duration
	// CacheTTL is the fallback validity window applied when the server's
	// response omits expires_at. Defaults to 24h.
	CacheTTL time.Duration
}

// defaultGracePeriodDays is used when the server omits grace_period_days.
const defaultGracePeriodDays = 3

// onlineClient calls the license server and caches the result.
type onlineClient struct {
	cfg        ClientConfig
	instanceID string
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.RWMutex
	cache *CachedLicense
}

func newOnlineClient(cfg ClientConfig, instanceID string) *onlineClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 24 * time.Hour
	}
	return &onlineClient{
		cfg:        cfg,
		instanceID: instanceID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log.WithComponent("license"),
	}
}

func (c *onlineClient) isValid(ctx context.Context) bool {
	c.mu.RLock()
	cached := c.cache
	c.mu.RUnlock()

	now := time.Now()
	if cached != nil && now.Before(cached.ExpiresAt) {
		return cached.Valid
	}

	fresh, err := c.validateWithServer(ctx)
	if err != nil {
		if cached != nil {
			c.logger.Warn().Err(err).Msg("license server unreachable, using cached grace-period result")
			return cached.IsValid(now)
		}
		c.logger.Warn().Err(err).Msg("license server unreachable and no cached result")
		return false
	}

	c.mu.Lock()
	c.cache = fresh
	c.mu.Unlock()
	return fresh.IsValid(now)
}

func (c *onlineClient) validateWithServer(ctx context.Context) (*CachedLicense, error) {
	reqBody, err := json.Marshal(ValidationRequest{
		LicenseKey: c.cfg.LicenseKey,
		InstanceID: c.instanceID,
	})
	if err != nil {
		return nil, fmt.Errorf("license: marshaling request: %w", err)
	}

	url := strings.TrimRight(c.cfg.ServerURL, "/") + "/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("license: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("license: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("license: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("license: server returned %s", resp.Status)
	}

	var result ValidationResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("license: parsing response: %w", err)
	}

	expiresAt := time.Now().Add(c.cfg.CacheTTL)
	if result.ExpiresAt != "" {
		if parsed, err := time.Parse(time.RFC3339, result.ExpiresAt); err == nil {
			expiresAt = parsed
		}
	}

	graceDays := result.GracePeriodDays
	if graceDays == 0 {
		graceDays = defaultGracePeriodDays
	}

	return &CachedLicense{
		Valid:      result.Valid,
		ExpiresAt:  expiresAt,
		CachedAt:   time.Now(),
		GraceUntil: expiresAt.Add(time.Duration(graceDays) * 24 * time.Hour),
	}, nil
}

// Gate enforces the free-tier secret cap and lifts it for a valid
// license.
type Gate struct {
	maxFreeSecrets int
	licenseKey     string
	online         *onlineClient
	logger         zerolog.Logger
}

// Config configures a Gate.
type Config struct {
	MaxFreeSecrets int
	LicenseKey     string
	Online         bool
	OnlineConfig   ClientConfig
	InstanceID     string // empty generates a new one
}

// New builds a Gate. If InstanceID is empty, a fresh one is generated;
// callers that persist an instance ID across restarts should pass it in.
func New(cfg Config) *Gate {
	g := &Gate{
		maxFreeSecrets: cfg.MaxFreeSecrets,
		licenseKey:     cfg.LicenseKey,
		logger:         log.WithComponent("license"),
	}
	if cfg.Online && cfg.LicenseKey != "" {
		instanceID := cfg.InstanceID
		if instanceID == "" {
			instanceID = uuid.New().String()
		}
		cfg.OnlineConfig.LicenseKey = cfg.LicenseKey
		g.online = newOnlineClient(cfg.OnlineConfig, instanceID)
	}
	return g
}

// Licensed reports whether the configured key lifts the free-tier cap.
func (g *Gate) Licensed(ctx context.Context) bool {
	if g.licenseKey == "" {
		return false
	}
	if g.online != nil {
		return g.online.isValid(ctx)
	}
	return validateOfflineKey(g.licenseKey)
}

// AllowCreate decides whether a new secret may be written given the
// store's current occupancy. Unlicensed installs are capped at
// maxFreeSecrets; a licensed install has no cap enforced here.
func (g *Gate) AllowCreate(ctx context.Context, currentCount int) error {
	if g.Licensed(ctx) {
		return nil
	}
	if currentCount >= g.maxFreeSecrets {
		return ErrQuotaExceeded
	}
	return nil
}

// GenerateInstanceID creates a fresh random instance identifier, for
// first-boot persistence alongside the master key.
func GenerateInstanceID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("license: generating instance id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

const instanceIDFileName = "instance.id"

// LoadOrCreateInstanceID reads <dataDir>/instance.id, generating and
// persisting a new one on first boot. The online LicenseGate uses this so
// repeated validations against the license server identify the same
// installation rather than looking like a new one on every restart.
func LoadOrCreateInstanceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, instanceIDFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(data)), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("license: reading instance id: %w", err)
	}

	id, err := GenerateInstanceID()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("license: persisting instance id: %w", err)
	}
	return id, nil
}
