package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/spf13/cobra"

	"github.com/pskrzyns/bedrockdash/internal/cache"
	"github.com/pskrzyns/bedrockdash/internal/config"
	"github.com/pskrzyns/bedrockdash/internal/core"
	"github.com/pskrzyns/bedrockdash/internal/datasets"
)

// buildStore constructs the AWS clients and a cache store with every dataset
// fetcher registered. Presentation code receives this store and nothing else.
func buildStore(ctx context.Context, cfg config.Config) (*cache.Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	costPrimary := costexplorer.NewFromConfig(awsCfg)
	costAssumed := costPrimary
	if cfg.AssumeRoleARN != "" {
		roleCfg := awsCfg.Copy()
		roleCfg.Credentials = aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.AssumeRoleARN))
		costAssumed = costexplorer.NewFromConfig(roleCfg)
	}

	billingCfg := awsCfg.Copy()
	billingCfg.Region = cfg.BillingRegion

	store := cache.New()
	datasets.Register(store, cfg, datasets.Clients{
		CostPrimary:     costPrimary,
		CostAssumedRole: costAssumed,
		MetricsBilling:  cloudwatch.NewFromConfig(billingCfg),
		Metrics:         cloudwatch.NewFromConfig(awsCfg),
		Identity:        iam.NewFromConfig(awsCfg),
	}, time.Now)
	return store, nil
}

func newSnapshotCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Fetch every dataset and print it as JSON.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}

			users, err := cache.Fetch[[]core.User](ctx, store, core.DatasetUsers, false)
			if err != nil {
				return err
			}
			usage, err := cache.Fetch[core.UsageReport](ctx, store, core.DatasetUserMetrics, false)
			if err != nil {
				return err
			}
			teams, err := cache.Fetch[[]core.TeamUsage](ctx, store, core.DatasetTeamMetrics, false)
			if err != nil {
				return err
			}
			cost, err := cache.Fetch[core.CostReport](ctx, store, core.DatasetCostData, false)
			if err != nil {
				return err
			}
			quotas, err := cache.Fetch[core.QuotaConfig](ctx, store, core.DatasetQuotaConfig, false)
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"users":       users,
				"userMetrics": usage,
				"teamMetrics": teams,
				"costData":    cost,
				"quotaConfig": quotas,
				"cacheStatus": store.Status(),
			})
		},
	}
}

func newAttributionCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "attribution",
		Short: "Print per-team attributed cost, daily breakdown, and month-to-date summary.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}

			rows, breakdown, err := datasets.Attribution(ctx, store)
			if err != nil {
				return err
			}
			monthly, err := datasets.MonthToDate(ctx, store, time.Now())
			if err != nil {
				return err
			}

			return printJSON(map[string]any{
				"teams":     rows,
				"daily":     breakdown,
				"monthly":   monthly,
				"generated": time.Now().UTC(),
			})
		},
	}
}

func newRefreshCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force-refresh every dataset and print the cache status.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := buildStore(ctx, cfg)
			if err != nil {
				return err
			}

			refreshErr := store.RefreshAll(ctx)
			if err := printJSON(store.Status()); err != nil {
				return err
			}
			return refreshErr
		},
	}
}

// newWatchCommand runs the store as a long-lived feed: every dataset is
// refreshed on an interval, successful refreshes stream to stdout as JSON
// lines, and edits to the settings file swap in a rebuilt store without a
// restart.
func newWatchCommand(cfg config.Config) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep every dataset fresh and stream updates as JSON lines.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var mu sync.Mutex // one JSON line per update, never interleaved
			emit := func(key core.DatasetKey, data any) {
				mu.Lock()
				defer mu.Unlock()
				json.NewEncoder(os.Stdout).Encode(map[string]any{
					"dataset": key,
					"data":    data,
					"at":      time.Now().UTC(),
				})
			}
			setup := func(c config.Config) (*cache.Store, error) {
				store, err := buildStore(ctx, c)
				if err != nil {
					return nil, err
				}
				for _, key := range core.AllDatasets {
					store.Subscribe(key, func(data any) { emit(key, data) })
				}
				return store, nil
			}

			store, err := setup(cfg)
			if err != nil {
				return err
			}

			reload := make(chan config.Config, 1)
			stop, err := config.Watch(config.ConfigPath(), func(next config.Config) {
				select {
				case reload <- next:
				default:
				}
			})
			if err != nil {
				return err
			}
			defer stop()

			if err := store.RefreshAll(ctx); err != nil {
				log.Printf("watch: initial refresh: %v", err)
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := store.RefreshAll(ctx); err != nil {
						log.Printf("watch: refresh: %v", err)
					}
				case next := <-reload:
					rebuilt, err := setup(next)
					if err != nil {
						log.Printf("watch: config reload: %v", err)
						continue
					}
					store = rebuilt
					if err := store.RefreshAll(ctx); err != nil {
						log.Printf("watch: refresh after reload: %v", err)
					}
				}
			}
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Minute, "time between dataset refreshes")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
