package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nucmed/nucmed/internal/radiopharm"
)

// Snapshot is the result of one alert evaluation for a site.
type Snapshot struct {
	Site        string             `json:"site"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
	Lots        int                `json:"lots"`
	Alerts      []radiopharm.Alert `json:"alerts"`
}

// Publisher hands alert data to a downstream consumer. Publishers never act
// on the suggested actions.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, s Snapshot) error
}

// LogPublisher writes each alert as a structured log line, at error level
// for critical alerts and warn level for high ones.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "alerts").Logger()}
}

func (p *LogPublisher) Name() string { return "log" }

func (p *LogPublisher) Publish(_ context.Context, s Snapshot) error {
	for _, a := range s.Alerts {
		var evt *zerolog.Event
		switch a.Severity {
		case radiopharm.SeverityCritical:
			evt = p.logger.Error()
		case radiopharm.SeverityHigh:
			evt = p.logger.Warn()
		default:
			evt = p.logger.Info()
		}
		actions := make([]string, len(a.Actions))
		for i, act := range a.Actions {
			actions[i] = string(act.Action)
		}
		evt.
			Str("site", s.Site).
			Str("alert_id", a.ID.String()).
			Str("lot_id", a.LotID).
			Str("kind", string(a.Kind)).
			Str("severity", string(a.Severity)).
			Strs("actions", actions).
			Msg(a.Message)
	}
	return nil
}

// redisClient is the subset of go-redis used by RedisPublisher.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher stores the latest snapshot of each site under
// "<channel>:<site>:latest" and publishes it on channel.
type RedisPublisher struct {
	client  redisClient
	channel string
	ttl     time.Duration
}

// NewRedisPublisher returns a publisher whose stored snapshot expires after
// ttl; zero keeps it until overwritten.
func NewRedisPublisher(client redisClient, channel string, ttl time.Duration) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, ttl: ttl}
}

func (p *RedisPublisher) Name() string { return "redis" }

// LatestKey is the key holding the last snapshot of site.
func (p *RedisPublisher) LatestKey(site string) string {
	return fmt.Sprintf("%s:%s:latest", p.channel, site)
}

func (p *RedisPublisher) Publish(ctx context.Context, s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode alert snapshot: %w", err)
	}
	if err := p.client.Set(ctx, p.LatestKey(s.Site), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("store alert snapshot: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish alert snapshot: %w", err)
	}
	return nil
}

// NewRedisClient connects to url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
