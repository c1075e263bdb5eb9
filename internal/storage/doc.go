// Package storage persists small per-operator preferences (price-history
// window sizes, log auto-refresh) across restarts. Nothing else is stored.
package storage
