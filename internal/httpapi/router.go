package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liveattend/internal/attendance"
	"liveattend/internal/auth"
	"liveattend/internal/httpmiddleware"
	"liveattend/internal/hub"
	"liveattend/internal/logging"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options configures the router.
type Options struct {
	Service         *attendance.Service
	Hub             *hub.Hub
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	CORSOrigins     []string
	Logger          *slog.Logger
	Gatherer        prometheus.Gatherer
	Checks          map[string]HealthCheck
}

// Handler serves the engine's HTTP surface.
type Handler struct {
	svc *attendance.Service
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	h := &Handler{svc: opts.Service}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.GinMiddleware(opts.Logger, "/healthz", "/metrics"))
	r.Use(httpmiddleware.CORS(opts.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", healthz(opts.Checks))

	if opts.Hub != nil {
		r.GET("/v1/ws", gin.WrapF(opts.Hub.ServeWS(HubAuthenticator(opts.SigningKey, opts.Issuer))))
	}

	v1 := r.Group("/v1", auth.Bearer(opts.SigningKey, opts.Issuer))
	if opts.RateLimitPerMin > 0 {
		limiter := httpmiddleware.NewSimpleTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin)
		v1.Use(limiter.GinMiddleware(principalKey))
	}

	v1.POST("/sessions/start", h.startSession)
	v1.POST("/sessions/end", h.endSession)
	v1.POST("/sessions", h.scheduleSession)
	v1.GET("/sessions/:id", h.getSession)
	v1.DELETE("/sessions/:id", h.deleteSession)
	v1.POST("/sessions/:id/activate", h.activateSession)
	v1.POST("/sessions/:id/end", h.endSessionManual)
	v1.GET("/sessions/:id/attendance", h.sessionAttendance)
	v1.GET("/sessions/:id/present", h.currentlyPresent)
	v1.GET("/sessions/:id/duration", h.totalDuration)
	v1.GET("/sessions/:id/participation", h.listParticipation)
	v1.POST("/sessions/:id/events", h.relayEvent)

	v1.POST("/attendance/join", h.recordJoin)
	v1.POST("/attendance/leave", h.recordLeave)
	v1.POST("/attendance/link", h.linkParticipant)

	v1.POST("/participation", h.appendParticipation)
	v1.POST("/participation/bulk", h.appendParticipationBulk)

	return r
}

// HubAuthenticator verifies hub connect tokens with the API's JWT settings.
func HubAuthenticator(signingKey, issuer string) hub.Authenticator {
	return func(token string) (hub.Principal, error) {
		claims, err := auth.Parse(token, signingKey, issuer)
		if err != nil {
			return hub.Principal{}, err
		}
		return hub.Principal{Subject: claims.Subject, Role: claims.Role}, nil
	}
}

func principalKey(c *gin.Context) string {
	if claims, ok := auth.ClaimsFrom(c); ok {
		return "sub:" + claims.Subject
	}
	return httpmiddleware.ClientIP(c)
}

func callerFrom(c *gin.Context) attendance.Caller {
	claims, _ := auth.ClaimsFrom(c)
	return attendance.Caller{ID: claims.Subject, Role: claims.Role}
}

func healthz(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := make(gin.H, len(checks))
		status := http.StatusOK
		for name, check := range checks {
			ok := check(c.Request.Context())
			results[name] = ok
			if !ok {
				status = http.StatusServiceUnavailable
			}
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
