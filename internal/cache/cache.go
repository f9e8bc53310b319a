// Package cache holds the optional report cache. Reports over closed date
// ranges are immutable, so cached payloads never go stale inside their TTL.
package cache

import (
	"context"
	"time"
)

type ReportCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
}

// NoopReportCache is used when no REDIS_ADDR is configured: every report is
// computed from the ledger.
type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}
