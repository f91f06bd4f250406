package router

import (
	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"

	apiHandler "github.com/fastygo/agriconnect/api/handler"
)

type Handlers struct {
	Auth     *apiHandler.AuthHandler
	Catalog  *apiHandler.CatalogHandler
	Requests *apiHandler.RequestHandler
	Admin    *apiHandler.AdminHandler
	Checkout *apiHandler.CheckoutHandler
	Health   *apiHandler.HealthHandler
	// Metrics is optional.
	Metrics fasthttp.RequestHandler
}

func New(handlers Handlers, authMiddleware func(fasthttp.RequestHandler) fasthttp.RequestHandler) *router.Router {
	r := router.New()

	r.GET("/health", handlers.Health.Check)
	if handlers.Metrics != nil {
		r.GET("/metrics", handlers.Metrics)
	}

	// Auth routes
	r.POST("/api/v1/auth/register", handlers.Auth.Register)
	r.POST("/api/v1/auth/signin", handlers.Auth.SignIn)

	// Protected routes
	r.POST("/api/v1/auth/signout", authMiddleware(handlers.Auth.SignOut))
	r.GET("/api/v1/session", authMiddleware(handlers.Auth.View))

	r.GET("/api/v1/catalog/{kind}", authMiddleware(handlers.Catalog.List))
	r.POST("/api/v1/catalog/{kind}", authMiddleware(handlers.Catalog.Create))
	r.DELETE("/api/v1/catalog/{kind}/{id}", authMiddleware(handlers.Catalog.Delete))

	r.POST("/api/v1/requests/logistics", authMiddleware(handlers.Requests.SubmitLogistics))
	r.POST("/api/v1/requests/loans", authMiddleware(handlers.Requests.SubmitLoan))
	r.PUT("/api/v1/requests/{kind}/{id}/status", authMiddleware(handlers.Requests.Decide))

	r.GET("/api/v1/admin/profiles/pending", authMiddleware(handlers.Admin.Pending))
	r.POST("/api/v1/admin/profiles/{id}/confirm", authMiddleware(handlers.Admin.Confirm))
	r.POST("/api/v1/admin/profiles/{id}/reject", authMiddleware(handlers.Admin.Reject))

	r.POST("/api/v1/checkout", authMiddleware(handlers.Checkout.Purchase))

	return r
}
