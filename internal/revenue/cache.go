package revenue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/sacco-service/internal/models"
)

// RedisReportCache is a read-through cache for eligibility reports. Cache
// errors are logged and treated as misses.
type RedisReportCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *logrus.Logger
}

func NewRedisReportCache(client redis.UniversalClient, ttl time.Duration, log *logrus.Logger) *RedisReportCache {
	return &RedisReportCache{client: client, ttl: ttl, log: log}
}

func reportKey(userID, period string) string {
	return "sacco:eligibility:" + userID + ":" + period
}

func (c *RedisReportCache) Get(ctx context.Context, userID, period string) (models.EligibilityReport, bool) {
	var report models.EligibilityReport
	cached, err := c.client.Get(ctx, reportKey(userID, period)).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warnf("Failed to read eligibility report cache: %v", err)
		}
		return report, false
	}
	if err := json.Unmarshal([]byte(cached), &report); err != nil {
		return report, false
	}
	return report, true
}

func (c *RedisReportCache) Set(ctx context.Context, report models.EligibilityReport) {
	data, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, reportKey(report.UserID, report.Period), data, c.ttl).Err(); err != nil {
		c.log.Warnf("Failed to write eligibility report cache: %v", err)
	}
}

// Invalidate drops every cached report of a user, e.g. after a loan changes state.
func (c *RedisReportCache) Invalidate(ctx context.Context, userID string) {
	iter := c.client.Scan(ctx, 0, reportKey(userID, "*"), 100).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
	if err := iter.Err(); err != nil {
		c.log.Warnf("Failed to invalidate eligibility reports: %v", err)
	}
}
