package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/protocollm/seat-licensing/internal/config"
	"github.com/protocollm/seat-licensing/internal/handler"
	"github.com/protocollm/seat-licensing/internal/middleware"
	"github.com/protocollm/seat-licensing/internal/model"
)

// RegisterLicense registers the seat-licensing endpoints.
//
// Claiming is open to any authenticated user (MEMBER or OWNER — owners
// may occupy one of their own seats); listing and revocation are owner
// only.  The claim endpoint is rate limited through the shared Redis
// token bucket so invite codes cannot be brute-forced across instances,
// and the owner listing is served through the per-user response cache.
// Both middlewares degrade to pass-through when rdb is nil.
func RegisterLicense(e *echo.Echo, h *handler.LicenseHandler, b *handler.BillingHandler, jwtSecret string, rdb *redis.Client) {
	rl := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	claim := e.Group(
		"/v1/invites",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleMember, model.RoleOwner),
	)
	claim.POST("/claim", h.ClaimInvite, rl)

	cacheCfg := config.LoadCacheConfig()
	// Listing responses differ per owner; force a user-scoped cache key
	// regardless of what the environment sets.
	cacheCfg.KeyStrategy = "user_route_query"

	owner := e.Group(
		"/v1/invites",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleOwner),
	)
	owner.GET("/list", h.ListSeats, middleware.NewRedisCache(cacheCfg, rdb))
	owner.POST("/revoke", h.RevokeSeat)

	// Inbound collaborator contract from the billing layer.  No JWT;
	// authenticated by shared secret inside the handler.
	e.POST("/v1/billing/subscription", b.Subscription)
}
