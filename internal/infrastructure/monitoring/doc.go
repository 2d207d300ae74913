/*
Package monitoring provides Prometheus metrics for the relay.

Metrics live on a private registry owned by Metrics rather than the global
default registry. All Record and Inc helpers are safe on a nil *Metrics, so
components may run without metrics.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "invoke_method")
	// ... relay the call ...
	timer.Stop("success")
*/
package monitoring
