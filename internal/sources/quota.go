package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pskrzyns/bedrockdash/internal/core"
)

// RemoteQuotaSource loads the quota limits document from its remote URL.
type RemoteQuotaSource struct {
	url    string
	client *http.Client
}

func NewRemoteQuota(url string, client *http.Client) *RemoteQuotaSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteQuotaSource{url: url, client: client}
}

func (s *RemoteQuotaSource) Name() core.Provenance { return core.ProvenanceRemoteConfig }

func (s *RemoteQuotaSource) Fetch(ctx context.Context) (core.QuotaConfig, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return core.QuotaConfig{}, fmt.Errorf("quota config: creating request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return core.QuotaConfig{}, fmt.Errorf("quota config: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.QuotaConfig{}, fmt.Errorf("quota config: HTTP %d from %s", resp.StatusCode, s.url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return core.QuotaConfig{}, fmt.Errorf("quota config: reading body: %w", err)
	}

	var cfg core.QuotaConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return core.QuotaConfig{}, fmt.Errorf("quota config: parsing document: %w", err)
	}
	cfg.Provenance = core.ProvenanceRemoteConfig
	cfg.Fallback = false
	return cfg, nil
}

// DefaultQuotaSource serves the compiled-in limits table. It never fails, so
// a quota chain ending in it always resolves; the result is flagged as a
// fallback so consumers can warn.
type DefaultQuotaSource struct {
	users map[string]core.QuotaLimits
	teams map[string]core.QuotaLimits
}

func NewDefaultQuota(users, teams map[string]core.QuotaLimits) *DefaultQuotaSource {
	return &DefaultQuotaSource{users: users, teams: teams}
}

func (s *DefaultQuotaSource) Name() core.Provenance { return core.ProvenanceDefaults }

func (s *DefaultQuotaSource) Fetch(context.Context) (core.QuotaConfig, error) {
	return core.QuotaConfig{
		Users:      s.users,
		Teams:      s.teams,
		Provenance: core.ProvenanceDefaults,
		Fallback:   true,
	}, nil
}
