package admission

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/brandforge/api/internal/auth"
	"github.com/brandforge/api/internal/plan"
	"github.com/brandforge/api/pkg/ratelimit"
)

// BypassPredicate decides at call time whether a request skips rate
// limiting. A predicate error never grants bypass; the request falls
// through to normal limiting.
type BypassPredicate func(r *http.Request) (bool, error)

// Guard is the request admission layer: policy resolution, tier scaling,
// window consumption and quota enforcement, applied as chi middleware.
type Guard struct {
	registry   *ratelimit.Registry
	limiter    *ratelimit.Limiter
	quota      *QuotaEnforcer
	metrics    *Metrics
	tracer     trace.Tracer
	upgradeURL string
}

func NewGuard(registry *ratelimit.Registry, limiter *ratelimit.Limiter, quota *QuotaEnforcer, metrics *Metrics, tracer trace.Tracer, upgradeURL string) *Guard {
	return &Guard{
		registry:   registry,
		limiter:    limiter,
		quota:      quota,
		metrics:    metrics,
		tracer:     tracer,
		upgradeURL: upgradeURL,
	}
}

type routeOptions struct {
	override *ratelimit.Override
	bypass   BypassPredicate
	metric   string
}

type Option func(*routeOptions)

// WithOverride replaces the category default with an ad-hoc policy.
func WithOverride(points int, window time.Duration) Option {
	return func(o *routeOptions) {
		o.override = &ratelimit.Override{Points: points, Window: window}
	}
}

// WithBypass installs a bypass predicate for the route.
func WithBypass(pred BypassPredicate) Option {
	return func(o *routeOptions) { o.bypass = pred }
}

// WithQuotaMetric enables the cumulative-usage check for the given metric.
// Quota-checked routes require an authenticated tenant.
func WithQuotaMetric(metric string) Option {
	return func(o *routeOptions) { o.metric = metric }
}

// Protect returns middleware enforcing the admission chain for one route
// category: resolve policy, scale by tier, consume the window budget,
// then check the quota ceiling.
func (g *Guard) Protect(category ratelimit.Category, opts ...Option) func(http.Handler) http.Handler {
	var ro routeOptions
	for _, opt := range opts {
		opt(&ro)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := g.tracer.Start(r.Context(), "admission.check")
			defer span.End()
			r = r.WithContext(ctx)

			identity := auth.GetIdentity(ctx)
			span.SetAttributes(
				attribute.String("admission.category", string(category)),
				attribute.String("admission.tenant_id", tenantID(identity)),
			)

			if ro.bypass != nil {
				ok, err := ro.bypass(r)
				if err != nil {
					log.Printf("admission: bypass predicate failed for %s, applying limits: %v", category, err)
				} else if ok {
					g.metrics.bypassed.WithLabelValues(string(category)).Inc()
					span.SetAttributes(attribute.Bool("admission.bypassed", true))
					next.ServeHTTP(w, r)
					return
				}
			}

			policy := g.registry.Resolve(category, ro.override)
			if identity != nil {
				policy = ratelimit.Adjust(policy, ratelimit.TierContext{
					Plan:        identity.Plan,
					TrialActive: identity.TrialActive,
				})
			}

			res, err := g.limiter.Consume(ctx, callerKey(r, identity, category), policy)
			if err != nil {
				log.Printf("admission: window store error for %s, failing open: %v", category, err)
				g.metrics.storeFailOpen.Inc()
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(policy.Points))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				g.metrics.rateLimited.WithLabelValues(string(category)).Inc()
				span.SetAttributes(attribute.Bool("admission.allowed", false))
				retryAfter := int(res.RetryAfter / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeJSON(w, http.StatusTooManyRequests, map[string]any{
					"success":    false,
					"error":      "Rate limit exceeded",
					"message":    fmt.Sprintf("Too many %s requests, try again in %d seconds", category, retryAfter),
					"retryAfter": retryAfter,
					"type":       string(category),
				})
				return
			}

			if ro.metric != "" {
				if identity == nil {
					writeJSON(w, http.StatusBadRequest, map[string]any{
						"error": "Tenant identity required",
					})
					return
				}

				decision, err := g.quota.Check(ctx, &plan.Tenant{
					ID:            identity.TenantID,
					Plan:          identity.Plan,
					TrialActive:   identity.TrialActive,
					QuotaOverride: identity.QuotaOverride,
				}, ro.metric)
				if err != nil {
					// Fail closed: denying a paid feature beats over-granting it.
					g.metrics.quotaErrors.Inc()
					span.SetAttributes(attribute.Bool("admission.allowed", false))
					if IsConfigError(err) {
						log.Printf("admission: quota configuration error for tenant %s: %v", identity.TenantID, err)
						writeJSON(w, http.StatusInternalServerError, map[string]any{
							"error": "Quota configuration error",
						})
					} else {
						log.Printf("admission: quota check unavailable for tenant %s: %v", identity.TenantID, err)
						writeJSON(w, http.StatusServiceUnavailable, map[string]any{
							"error": "Quota check unavailable",
						})
					}
					return
				}

				if !decision.Allowed {
					g.metrics.quotaBlocked.WithLabelValues(ro.metric).Inc()
					span.SetAttributes(attribute.Bool("admission.allowed", false))
					writeJSON(w, http.StatusPaymentRequired, map[string]any{
						"error":         "Usage limit exceeded",
						"feature":       ro.metric,
						"current_usage": decision.Current,
						"limit":         decision.Ceiling,
						"upgrade_url":   g.upgradeURL,
					})
					return
				}
			}

			g.metrics.allowed.WithLabelValues(string(category)).Inc()
			span.SetAttributes(attribute.Bool("admission.allowed", true))
			next.ServeHTTP(w, r)
		})
	}
}

// callerKey scopes window state: the tenant when authenticated, the
// network origin otherwise. Key-scoped categories get an independent
// budget per category.
func callerKey(r *http.Request, identity *auth.Identity, category ratelimit.Category) string {
	key := tenantID(identity)
	if key == "" {
		key = remoteIP(r)
	}
	if category.ScopesKey() {
		key = key + ":" + string(category)
	}
	return key
}

func tenantID(identity *auth.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.TenantID
}

func remoteIP(r *http.Request) string {
	// chi's RealIP middleware has already rewritten RemoteAddr when the
	// request came through a proxy.
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
