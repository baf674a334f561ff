package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

func InstallRouter(app *fiber.App) {
	// Public routes first so /health and /metrics stay outside the admin group.
	setup(app, NewHttpRouter(NewLimiterStorageFromEnv()), NewAdminRouter(AdminAuthFromEnv()))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
