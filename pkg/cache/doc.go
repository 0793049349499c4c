// Package cache provides an in-process, size-bounded LRU cache with per-entry
// expiry. It backs short-lived projections when no shared cache is configured.
package cache
