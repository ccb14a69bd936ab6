package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"shopdesk/config"
	"shopdesk/internal/delivery"
	"shopdesk/internal/delivery/api"
	apimiddleware "shopdesk/internal/delivery/api/middleware"
	"shopdesk/internal/delivery/api/router/handler"
	logs "shopdesk/internal/infra/log"
	"shopdesk/internal/infra/metrics"
	"shopdesk/internal/infra/persistence/model"
	"shopdesk/internal/infra/persistence/postgres"
	"shopdesk/internal/infra/persistence/uow"
	"shopdesk/internal/usecase"
	"shopdesk/internal/usecase/impl"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectPersistence(),
		injectMetrics(),
		injectUsecase(),
		injectDelivery(),
		injectHandler(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Provide(
		config.New,
		logs.New,
		context.Background,
	)
}

func injectPersistence() fx.Option {
	return fx.Options(
		fx.Provide(
			postgres.New,
			postgres.NewSessionFactory,
			model.NewRegistry,
			uow.NewProvider,
			fx.Annotate(
				func(f *postgres.SessionFactory) *postgres.SessionFactory { return f },
				fx.As(new(handler.BreakerReporter)),
			),
			fx.Annotate(
				func(p *uow.Provider) *uow.Provider { return p },
				fx.As(new(handler.Pinger)),
			),
		),
	)
}

func injectMetrics() fx.Option {
	return fx.Options(
		fx.Provide(
			prometheus.NewRegistry,
			fx.Annotate(
				func(reg *prometheus.Registry) *prometheus.Registry { return reg },
				fx.As(new(prometheus.Registerer)),
			),
			newPrometheus,
			fx.Annotate(
				func(m *metrics.Prometheus) *metrics.Prometheus { return m },
				fx.As(new(uow.Recorder)),
				fx.As(new(usecase.UseCaseMetrics)),
				fx.As(new(apimiddleware.HTTPMetrics)),
			),
			fx.Annotate(
				newMetricsHandler,
				fx.ResultTags(`name:"metrics"`),
			),
		),
	)
}

func newPrometheus(reg *prometheus.Registry, cfg *config.Config) *metrics.Prometheus {
	return metrics.NewPrometheus(reg, cfg.Env.ServiceName)
}

func newMetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			impl.NewCatalogService,
			impl.NewBillingService,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewProductHandler,
			handler.NewInvoiceHandler,
			handler.NewHealthHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				api.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))
				os.Exit(1)
			}
		}()
	}
}
