package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/profilehub/profilehub/internal/identity"
	"github.com/profilehub/profilehub/internal/imagestore"
)

// RegisterIdentityRoutes wires signup, login and the profile directory.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/signup", h.Register)
	r.Post("/login", h.Login)

	r.Get("/profiles", h.List)
	r.Get("/profiles/:id", h.Get)
	r.Put("/profiles/:id", h.Update)
}

// RegisterImageRoutes wires uploads under the API group and serves stored
// images at the root, matching the URLs the store hands out.
func RegisterImageRoutes(app *fiber.App, api fiber.Router, h *imagestore.Handler) {
	api.Post("/upload", h.Upload)
	app.Get("/images/:key", h.Serve)
}
