package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brandforge/api/internal/plan"
)

var ErrKeyNotFound = errors.New("api key not found")

type APIKey struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	KeyHash   string    `json:"key_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Identity is the per-request view of who is calling: the tenant plus the
// subscription fields both admission checks read. Resolved once here so
// tier scaling and quota ceilings share one plan lookup.
type Identity struct {
	TenantID      string `json:"tenant_id"`
	APIKeyID      string `json:"api_key_id"`
	Plan          string `json:"plan"`
	TrialActive   bool   `json:"trial_active"`
	QuotaOverride bool   `json:"quota_override"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (i *Identity) MarshalBinary() ([]byte, error) {
	return json.Marshal(i)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (i *Identity) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, i)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "request_id"
)

// identityTTL bounds how stale a cached plan/override can be.
const identityTTL = 5 * time.Minute

func NewMiddleware(keys Store, plans plan.Store, cache *redis.Client) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			key := strings.TrimPrefix(authHeader, "Bearer ")

			cacheKey := fmt.Sprintf("auth:%s", hashKey(key))

			var cached Identity
			err := cache.Get(ctx, cacheKey).Scan(&cached)
			if err == nil {
				ctx = context.WithValue(ctx, identityKey, &cached)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			} else if err != redis.Nil {
				log.Printf("auth: redis error: %v", err)
			}

			apiKey, err := keys.GetByKey(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					http.Error(w, "Unauthorized: invalid API key", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			tenant, err := plans.GetTenant(ctx, apiKey.TenantID)
			if err != nil {
				if errors.Is(err, plan.ErrTenantNotFound) {
					http.Error(w, "Unauthorized: tenant not found", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			identity := &Identity{
				TenantID:      tenant.ID,
				APIKeyID:      apiKey.ID,
				Plan:          tenant.Plan,
				TrialActive:   tenant.TrialActive,
				QuotaOverride: tenant.QuotaOverride,
			}

			_ = cache.Set(ctx, cacheKey, identity, identityTTL).Err()

			ctx = context.WithValue(ctx, identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func hashKey(key string) string {
	h := sha256.New()
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// Helpers to extract from context
func GetIdentity(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

func GetTenantID(ctx context.Context) string {
	if id := GetIdentity(ctx); id != nil {
		return id.TenantID
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
