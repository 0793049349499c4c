// Package httpserver runs an http.Server bound to a context: Run blocks until
// the context is cancelled and then drains in-flight requests within
// Config.ShutdownTimeout. It also provides liveness and readiness handlers.
package httpserver
