// Package datasets wires every dataset key to its source chain and registers
// the fetchers on a cache store. The active source implementations are fixed
// here, at construction time; nothing swaps them at runtime.
package datasets

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/pskrzyns/bedrockdash/internal/cache"
	"github.com/pskrzyns/bedrockdash/internal/config"
	"github.com/pskrzyns/bedrockdash/internal/core"
	"github.com/pskrzyns/bedrockdash/internal/estimator"
	"github.com/pskrzyns/bedrockdash/internal/sources"
)

// Clients bundles the upstream API clients the dataset fetchers run against.
// CostPrimary and CostAssumedRole are the two billing principals;
// MetricsBilling must point at the region carrying AWS/Billing metrics.
type Clients struct {
	CostPrimary     sources.CostExplorerAPI
	CostAssumedRole sources.CostExplorerAPI
	MetricsBilling  sources.CloudWatchAPI
	Metrics         sources.CloudWatchAPI
	Identity        sources.IAMAPI
	HTTP            *http.Client
}

// Register wires all dataset fetchers onto store. now is injectable so tests
// can pin the window.
func Register(store *cache.Store, cfg config.Config, clients Clients, now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	window := func() core.Window { return core.NewWindow(now(), cfg.WindowDays) }

	usersFromCache := func(ctx context.Context) ([]core.User, error) {
		return cache.Fetch[[]core.User](ctx, store, core.DatasetUsers, false)
	}

	store.Register(core.DatasetUsers, cfg.TTLFor(core.DatasetUsers), func(ctx context.Context) (any, error) {
		return sources.NewIdentity(clients.Identity, cfg.TeamGroupPrefix).Fetch(ctx)
	})

	store.Register(core.DatasetUserMetrics, cfg.TTLFor(core.DatasetUserMetrics), func(ctx context.Context) (any, error) {
		src := sources.NewUsageMetrics(core.ProvenanceCloudWatch, clients.Metrics, window(),
			cfg.UsageNamespace, cfg.UsageMetricName, usersFromCache)
		return src.Fetch(ctx)
	})

	store.Register(core.DatasetTeamMetrics, cfg.TTLFor(core.DatasetTeamMetrics), func(ctx context.Context) (any, error) {
		users, err := usersFromCache(ctx)
		if err != nil {
			return nil, err
		}
		usage, err := cache.Fetch[core.UsageReport](ctx, store, core.DatasetUserMetrics, false)
		if err != nil {
			return nil, err
		}
		return buildTeamUsage(users, usage), nil
	})

	costChain := func(w core.Window) []sources.Source[core.CostReport] {
		return []sources.Source[core.CostReport]{
			sources.NewCostExplorer(core.ProvenanceCostExplorer, clients.CostPrimary, w, cfg.ServiceKeyword),
			sources.NewCostExplorer(core.ProvenanceCostExplorerRole, clients.CostAssumedRole, w, cfg.ServiceKeyword),
			sources.NewBillingMetrics(core.CloudWatchProvenance(cfg.BillingRegion), clients.MetricsBilling, w, cfg.ServiceKeyword),
			sources.NewBillingMetrics(core.CloudWatchProvenance(cfg.Region), clients.Metrics, w, cfg.ServiceKeyword),
		}
	}

	store.Register(core.DatasetCostData, cfg.TTLFor(core.DatasetCostData), func(ctx context.Context) (any, error) {
		usage := func(ctx context.Context) (core.UsageReport, error) {
			return cache.Fetch[core.UsageReport](ctx, store, core.DatasetUserMetrics, false)
		}
		return fetchCost(ctx, costChain(window()), usage)
	})

	store.Register(core.DatasetPriorMonthCost, cfg.TTLFor(core.DatasetPriorMonthCost), func(ctx context.Context) (any, error) {
		w, ok := core.PriorMonthWindow(now())
		if !ok {
			// First of the month: no elapsed days to compare against yet.
			return core.CostReport{}, nil
		}
		// No estimator here: a fabricated baseline would make the
		// month-over-month comparison meaningless.
		res, err := sources.Resolve(ctx, costChain(w)...)
		if err != nil {
			return nil, err
		}
		report := res.Value
		report.Degraded = res.Degraded
		return report, nil
	})

	store.Register(core.DatasetQuotaConfig, cfg.TTLFor(core.DatasetQuotaConfig), func(ctx context.Context) (any, error) {
		defaults := sources.NewDefaultQuota(cfg.DefaultUserQuotas, cfg.DefaultTeamQuotas)
		var chain []sources.Source[core.QuotaConfig]
		if cfg.QuotaConfigURL != "" {
			chain = append(chain, sources.NewRemoteQuota(cfg.QuotaConfigURL, clients.HTTP))
		}
		chain = append(chain, defaults)
		res, err := sources.Resolve(ctx, chain...)
		if err != nil {
			return nil, err
		}
		return res.Value, nil
	})
}

// fetchCost resolves the billing chain and, when the whole chain is
// exhausted, synthesizes an estimated matrix from historical request counts.
// Failures to even estimate propagate so the cache entry stays untouched.
func fetchCost(ctx context.Context, chain []sources.Source[core.CostReport], usage func(ctx context.Context) (core.UsageReport, error)) (core.CostReport, error) {
	res, err := sources.Resolve(ctx, chain...)
	if err == nil {
		report := res.Value
		report.Degraded = res.Degraded
		return report, nil
	}
	if !errors.Is(err, sources.ErrAllSourcesExhausted) {
		return core.CostReport{}, err
	}

	history, usageErr := usage(ctx)
	if usageErr != nil {
		return core.CostReport{}, errors.Join(err, usageErr)
	}
	return estimator.Estimate(history), nil
}

// buildTeamUsage rolls per-entity request counts up into per-team rows.
// Entities with no team are left out; they still count in the usage report's
// own totals.
func buildTeamUsage(users []core.User, usage core.UsageReport) []core.TeamUsage {
	teamOf := make(map[string]string, len(users))
	for _, u := range users {
		teamOf[u.Name] = u.Team
	}

	byTeam := make(map[string]*core.TeamUsage)
	for entity, series := range usage.Requests {
		team := teamOf[entity]
		if team == "" {
			continue
		}
		row, ok := byTeam[team]
		if !ok {
			row = &core.TeamUsage{Team: team, Requests: make([]float64, len(usage.Days))}
			byTeam[team] = row
		}
		row.Members = append(row.Members, entity)
		for d, v := range series {
			if d < len(row.Requests) {
				row.Requests[d] += v
			}
		}
	}

	rows := make([]core.TeamUsage, 0, len(byTeam))
	for _, row := range byTeam {
		sort.Strings(row.Members)
		row.Total = lo.Sum(row.Requests)
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Team < rows[j].Team })
	return rows
}
