package metrics

import (
	"log/slog"
	"net/http"

	"datum-hq/soe/pkg/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the scrape handler for the collector's registry.
//
// The handler serves OpenMetrics when the scraper asks for it and the
// Prometheus text format otherwise. Scrape limits come from MetricsConfig:
//   - ScrapeTimeout aborts a scrape that takes too long with 503
//   - MaxConcurrentScrapes rejects scrapes past the limit with 503
//
// Collection errors are logged and the remaining metrics are still served,
// so one failing collector never hides the policy run and governance
// counters. The handler also reports its own scrape counts under
// promhttp_metric_handler_requests_total in the same registry.
func (c *Collector) Handler() http.Handler {
	return c.handler(slog.Default())
}

func (c *Collector) handler(logger *slog.Logger) http.Handler {
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics:   true,
		ErrorHandling:       promhttp.ContinueOnError,
		ErrorLog:            slog.NewLogLogger(logger.Handler(), slog.LevelError),
		Registry:            c.registry,
		Timeout:             c.config.ScrapeTimeout,
		MaxRequestsInFlight: c.config.MaxConcurrentScrapes,
	}
	return promhttp.InstrumentMetricHandler(c.registry, promhttp.HandlerFor(c.registry, opts))
}

// Mount registers the scrape handler on mux at the configured path and
// returns that path. When metrics are disabled nothing is registered and the
// path is empty.
//
// Example:
//
//	mux := http.NewServeMux()
//	collector.Mount(mux, logger)
//	health.Mount(mux, checker, version)
func (c *Collector) Mount(mux *http.ServeMux, logger *slog.Logger) string {
	if !c.config.IsEnabled() {
		return ""
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := c.config.Path
	if path == "" {
		path = config.DefaultMetricsPath
	}
	mux.Handle(path, c.handler(logger.With("component", "metrics.handler")))
	return path
}
