// Package router contains routing and server setup for the HTTP delivery.
package router

import (
	"net/http"

	"shopdesk/config"
	"shopdesk/internal/delivery/api/router/handler"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
)

type RouterParams struct {
	fx.In

	ProductHandler *handler.ProductHandler
	InvoiceHandler *handler.InvoiceHandler
	HealthHandler  *handler.HealthHandler
	MetricsHandler http.Handler `name:"metrics" optional:"true"`
	Config         *config.Config
}

// router holds all the handlers that need to be registered.
type router struct {
	productHandler *handler.ProductHandler
	invoiceHandler *handler.InvoiceHandler
	healthHandler  *handler.HealthHandler
	metricsHandler http.Handler
	config         *config.Config
}

// NewRouter is the constructor for the Router.
// Fx will inject the required handlers here.
func NewRouter(params RouterParams) *router {
	return &router{
		productHandler: params.ProductHandler,
		invoiceHandler: params.InvoiceHandler,
		healthHandler:  params.HealthHandler,
		metricsHandler: params.MetricsHandler,
		config:         params.Config,
	}
}

// RegisterRoutes sets up all the API routes for the application.
func (r *router) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", r.healthHandler.Live)
	e.GET("/ready", r.healthHandler.Ready)

	if r.metricsHandler != nil && r.config.Metrics != nil && r.config.Metrics.Enabled {
		e.GET(r.config.Metrics.Path, echo.WrapHandler(r.metricsHandler))
	}

	apiV1 := e.Group("/api/v1")

	productsGroup := apiV1.Group("/products")
	{
		productsGroup.POST("", r.productHandler.RegisterProduct)
		productsGroup.GET("", r.productHandler.ListProducts)
		productsGroup.GET("/:id", r.productHandler.GetProduct)
		productsGroup.PUT("/:id/price", r.productHandler.RepriceProduct)
		productsGroup.DELETE("/:id", r.productHandler.RemoveProduct)
	}

	invoicesGroup := apiV1.Group("/invoices")
	{
		invoicesGroup.POST("", r.invoiceHandler.IssueInvoice)
	}
}
