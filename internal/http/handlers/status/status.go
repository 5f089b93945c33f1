package status

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/princekumarofficial/transcode-service/internal/lease"
	"github.com/princekumarofficial/transcode-service/internal/services/transcode"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
	"github.com/princekumarofficial/transcode-service/internal/utils/response"
)

// Source is the part of the transcode service the endpoint reports on
type Source interface {
	LastStats() transcode.Stats
	Tables() []media.Table
}

// WatcherCounter reports how many event watchers are connected
type WatcherCounter interface {
	ClientCount() int
}

type Report struct {
	LastScan transcode.Stats `json:"last_scan"`
	Tables   []media.Table   `json:"tables"`
	Redis    *RedisStats     `json:"redis,omitempty"`
	Watchers int             `json:"watchers"`
}

type RedisStats struct {
	Connected    bool `json:"connected"`
	ActiveLeases int  `json:"active_leases"`
}

func Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.WriteJSON(w, http.StatusOK, response.RequestOK("ok", nil))
	}
}

// Stats returns the last scan statistics and the table shapes in use.
// redisClient and watchers may be nil.
func Stats(src Source, redisClient *redis.Client, watchers WatcherCounter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := Report{
			LastScan: src.LastStats(),
			Tables:   src.Tables(),
		}
		if watchers != nil {
			report.Watchers = watchers.ClientCount()
		}
		if redisClient != nil {
			report.Redis = redisStats(r.Context(), redisClient)
		}

		response.WriteJSON(w, http.StatusOK, response.RequestOK("Transcode stats retrieved", report))
	}
}

func redisStats(ctx context.Context, redisClient *redis.Client) *RedisStats {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	stats := &RedisStats{}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return stats
	}
	stats.Connected = true

	if keys, err := redisClient.Keys(ctx, lease.KeyGlob).Result(); err == nil {
		stats.ActiveLeases = len(keys)
	}
	return stats
}
