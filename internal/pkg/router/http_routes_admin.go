package router

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/SwedbankPayQueue/app/controllers"
	"github.com/ManuelReschke/SwedbankPayQueue/internal/pkg/env"
)

// AdminAuth holds the basic auth credentials of the admin API. The password
// is stored as a bcrypt hash.
type AdminAuth struct {
	User         string
	PasswordHash []byte
}

func AdminAuthFromEnv() AdminAuth {
	auth := AdminAuth{
		User:         env.GetEnv("ADMIN_USER", "admin"),
		PasswordHash: []byte(env.GetEnv("ADMIN_PASSWORD_HASH", "")),
	}
	if len(auth.PasswordHash) == 0 {
		log.Warn("[Router] ADMIN_PASSWORD_HASH is not set, the admin API rejects every request")
	}
	return auth
}

// Authorize checks a basic auth pair. An empty hash rejects everyone.
func (a AdminAuth) Authorize(user, pass string) bool {
	if len(a.PasswordHash) == 0 {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(a.User)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pass)) == nil
}

// AdminRouter installs the JSON admin API behind basic auth.
type AdminRouter struct {
	auth AdminAuth
}

func NewAdminRouter(auth AdminAuth) *AdminRouter {
	return &AdminRouter{auth: auth}
}

func (r AdminRouter) InstallRouter(app *fiber.App) {
	r.registerAdminRoutes(app)
}

func (r AdminRouter) group(app *fiber.App) fiber.Router {
	return app.Group("/admin", basicauth.New(basicauth.Config{
		Realm:      "Swedbank Pay Queue",
		Authorizer: r.auth.Authorize,
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `basic realm="Swedbank Pay Queue"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		},
	}))
}

func (r AdminRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := r.group(app)

	// Queue monitor
	adminGroup.Get("/queue", controllers.HandleAdminQueue)
	adminGroup.Get("/queue/jobs/:key", controllers.HandleAdminQueueJob)
	adminGroup.Post("/queue/dispatch", controllers.HandleAdminQueueDispatch)

	// Orders
	adminGroup.Get("/orders/manual-processing", controllers.HandleAdminManualProcessing)
	adminGroup.Get("/orders/:id", controllers.HandleAdminOrder)
	adminGroup.Put("/orders/:id/status", controllers.HandleAdminOrderStatus)
	adminGroup.Post("/orders/:id/renewal", controllers.HandleAdminOrderRenewal)

	// Customers
	adminGroup.Get("/customers/:id/tokens", controllers.HandleAdminCustomerTokens)

	// Gateway settings
	adminGroup.Get("/gateways/:method", controllers.HandleAdminGatewaySettings)
	adminGroup.Put("/gateways/:method", controllers.HandleAdminGatewaySettingsUpdate)

	// Raw callback archive
	adminGroup.Get("/archive", controllers.HandleAdminArchivedCallback)
}
