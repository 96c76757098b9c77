package http

import (
	"log/slog"
	"time"

	"financemate/internal/cache"
	"financemate/internal/core"
)

// ViewCache caches the read views served by the API. Keys are path-shaped so
// the reconciliation service can invalidate them by prefix after a mutation.
type ViewCache struct {
	overview *cache.LRUCache[core.DashboardOverview]
	detail   *cache.LRUCache[core.AccountDetail]
}

func NewViewCache(ttl time.Duration) *ViewCache {
	return &ViewCache{
		overview: cache.NewLRUCache[core.DashboardOverview](100, ttl),
		detail:   cache.NewLRUCache[core.AccountDetail](200, ttl),
	}
}

// Revalidate drops every cached view under path.
func (v *ViewCache) Revalidate(path string) {
	n := v.overview.DeletePrefix(path) + v.detail.DeletePrefix(path)
	if n > 0 {
		slog.Debug("View cache invalidated", "path", path, "entries", n)
	}
}

// RegisterWith subscribes both caches to the manager's expiry sweep.
func (v *ViewCache) RegisterWith(m *cache.Manager) {
	m.Register(v.overview)
	m.Register(v.detail)
}

func dashboardKey(ownerID string) string {
	return "/dashboard/" + ownerID
}

func accountKey(accountID, ownerID string) string {
	return "/account/" + accountID + "/" + ownerID
}
