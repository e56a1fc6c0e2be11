package server

import (
	"net/http"

	metrics "github.com/docker/go-metrics"
)

var requestsTimer metrics.LabeledTimer

func init() {
	ns := metrics.NewNamespace("glance", "api", nil)
	requestsTimer = ns.NewLabeledTimer("request", "The number of seconds it takes to process an API request", "operation")
	metrics.Register(ns)
}

func metricsHandler(operation string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done := metrics.StartTimer(requestsTimer.WithValues(operation))
		defer done()
		handler(w, r)
	}
}
