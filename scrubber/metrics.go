package scrubber

import metrics "github.com/docker/go-metrics"

var (
	cycleTimer      metrics.Timer
	scrubbedCounter metrics.Counter
)

func init() {
	ns := metrics.NewNamespace("glance", "scrubber", nil)
	cycleTimer = ns.NewTimer("cycle", "The number of seconds it takes to complete one scrub cycle")
	scrubbedCounter = ns.NewCounter("images_scrubbed", "The number of image bodies reclaimed")
	metrics.Register(ns)
}
