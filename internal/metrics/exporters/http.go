// Package exporters provides HTTP and SSE exporters for metrics.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the Prometheus metrics HTTP handler for the default
// registry, which metrics.Default registers with.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
