// Package poller はジョブ状態のポーリングクライアントを提供します。
// レコードの内容から判断するのは終端状態かどうかだけで、書き込みは行いません。
package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourusername/image-forge/internal/jobs"
)

// DefaultInterval は既定のポーリング間隔です。
const DefaultInterval = 2 * time.Second

// Poller は終端状態になるまでジョブレコードを定期取得します。
type Poller struct {
	BaseURL  string
	Interval time.Duration
	Client   *http.Client

	// OnUpdate は取得のたびに呼ばれます（nil可）。
	OnUpdate func(*jobs.Record)
}

// Wait はジョブが completed / failed になるまでポーリングし、最終レコードを返します。
func (p *Poller) Wait(ctx context.Context, jobID string) (*jobs.Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		record, err := p.fetch(ctx, client, jobID)
		if err != nil {
			return nil, err
		}
		if p.OnUpdate != nil {
			p.OnUpdate(record)
		}
		if record.Status.Terminal() {
			return record, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) fetch(ctx context.Context, client *http.Client, jobID string) (*jobs.Record, error) {
	endpoint := fmt.Sprintf("%s/api/jobs/%s", strings.TrimRight(p.BaseURL, "/"), url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var record jobs.Record
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode job record: %w", err)
	}
	return &record, nil
}
