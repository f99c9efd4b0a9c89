package projections

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/errgroup"

	"fitsync/internal/adapters/portal"
	"fitsync/internal/application/offline"
	domainOffline "fitsync/internal/domain/offline"
)

// DashboardFetcher reads one key through the offline cache.
// *offline.Service satisfies it.
type DashboardFetcher interface {
	FetchWithCache(ctx context.Context, key string, fetch offline.NetworkFunc, opts offline.FetchOptions) domainOffline.FetchResult
}

// GetMemberDashboardDeps holds dependencies for the member dashboard projection.
type GetMemberDashboardDeps struct {
	Fetcher DashboardFetcher
	Network func(path string) offline.NetworkFunc // usually (*portal.Client).Fetch
}

// GetMemberDashboardQuery carries input for the member dashboard projection.
type GetMemberDashboardQuery struct {
	ForceRefresh bool
}

// DashboardSection is one portal response on the dashboard.
type DashboardSection struct {
	Key      string          `json:"key"`
	Source   string          `json:"source"` // cache, network, stale or none
	Data     json.RawMessage `json:"data,omitempty"`
	StoredAt *time.Time      `json:"stored_at,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// MemberDashboardResult carries the output of the member dashboard projection.
type MemberDashboardResult struct {
	Membership DashboardSection `json:"membership"`
	Workout    DashboardSection `json:"workout"`
	Progress   DashboardSection `json:"progress"`
	Degraded   bool             `json:"degraded"` // at least one section is stale or missing
}

// QueryGetMemberDashboard loads the three dashboard sections concurrently.
// Each section degrades on its own; one failing section never hides the others.
// PRE: deps.Fetcher and deps.Network are non-nil
// POST: Every section is populated with its source label
func QueryGetMemberDashboard(ctx context.Context, query GetMemberDashboardQuery, deps GetMemberDashboardDeps) (MemberDashboardResult, error) {
	var result MemberDashboardResult
	targets := []struct {
		key     string
		section *DashboardSection
	}{
		{portal.KeyMembershipDetails, &result.Membership},
		{portal.KeyWeeklyWorkout, &result.Workout},
		{portal.KeyProgressSummary, &result.Progress},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			res := deps.Fetcher.FetchWithCache(gctx, target.key, deps.Network(portal.Endpoints[target.key]), offline.FetchOptions{
				ForceRefresh: query.ForceRefresh,
			})
			*target.section = toSection(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return MemberDashboardResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return MemberDashboardResult{}, err
	}

	for _, target := range targets {
		if src := target.section.Source; src == "stale" || src == "none" {
			result.Degraded = true
		}
	}
	return result, nil
}

func toSection(res domainOffline.FetchResult) DashboardSection {
	s := DashboardSection{
		Key:     res.Key,
		Source:  res.State.Source(),
		Message: res.Message,
	}
	if res.HasData() {
		s.Data = res.Data
	}
	if !res.StoredAt.IsZero() {
		storedAt := res.StoredAt
		s.StoredAt = &storedAt
	}
	return s
}
