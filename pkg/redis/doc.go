// Package redis connects go-redis clients with retries and exposes a
// readiness probe. Redis is optional for the service; callers check
// Config.Enabled before connecting.
package redis
