// Package groups provides the concurrency group registry: named parallelism
// budgets for ingest sources. Each source is tagged with a group key; the
// registry answers how many sources in that group may fetch concurrently.
package groups

import (
	"log/slog"
	"sync"

	"github.com/openlibraryenvironment/dcb-service-sub007/types"
)

// Unbounded is the limit value meaning "no parallelism cap".
const Unbounded = 0

// Registry is a read-only lookup from group key to parallelism limit. It is
// built once at startup and requires no locking on the read path; only the
// warn-once bookkeeping for unknown keys is synchronized.
type Registry struct {
	limits map[string]int
	logger *slog.Logger
	warned sync.Map // group key -> struct{}
}

// NewRegistry builds a registry from configuration entries. A "default"
// group is synthesized with an unbounded limit when the configuration does
// not carry one.
func NewRegistry(logger *slog.Logger, entries map[string]int) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	limits := make(map[string]int, len(entries)+1)
	for name, limit := range entries {
		if limit < 0 {
			logger.Warn("negative concurrency limit treated as unbounded",
				"group", name, "limit", limit)
			limit = Unbounded
		}
		limits[name] = limit
	}
	if _, ok := limits[types.DefaultConcurrencyGroup]; !ok {
		limits[types.DefaultConcurrencyGroup] = Unbounded
	}

	return &Registry{limits: limits, logger: logger}
}

// LimitFor returns the configured limit for a group key. Unknown keys fall
// back to the "default" group's limit; the fallback is logged once per key
// and is never an error.
func (r *Registry) LimitFor(key string) int {
	if limit, ok := r.limits[key]; ok {
		return limit
	}

	if _, seen := r.warned.LoadOrStore(key, struct{}{}); !seen {
		r.logger.Warn("unknown concurrency group, falling back to default",
			"group", key, "default_limit", r.limits[types.DefaultConcurrencyGroup])
	}
	return r.limits[types.DefaultConcurrencyGroup]
}

// Groups returns the names of all configured groups.
func (r *Registry) Groups() []string {
	names := make([]string, 0, len(r.limits))
	for name := range r.limits {
		names = append(names, name)
	}
	return names
}
