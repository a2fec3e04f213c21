package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/booking-holds/internal/domain"
	"github.com/robertarktes/booking-holds/internal/observability"
)

// Snapshots caches request snapshots. It is registered as a notifier on the
// hold manager so every committed change drops the cached copy.
type Snapshots struct {
	client *redis.Client
	ttl    time.Duration
	logger observability.Logger
	now    func() time.Time
}

func NewSnapshots(client *redis.Client, ttl time.Duration, logger observability.Logger) *Snapshots {
	return &Snapshots{client: client, ttl: ttl, logger: logger, now: time.Now}
}

func snapshotKey(id uuid.UUID) string {
	return "snap:" + id.String()
}

func snapshotVersionKey(id uuid.UUID) string {
	return "snapver:" + id.String()
}

// snapshotVersionTTL bounds how long a version counter outlives the last
// change. It must exceed the slowest fill.
const snapshotVersionTTL = time.Hour

// storeSnapshot writes the snapshot only while the request's version is the
// one read before fill ran. A missing counter reads as "".
var storeSnapshot = redis.NewScript(`
local v = redis.call("GET", KEYS[2])
if not v then v = "" end
if v ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

// Load returns the cached snapshot or calls fill and caches its result. An
// entry never outlives the active hold it shows, so a cached read cannot
// skip lazy expiry.
func (s *Snapshots) Load(ctx context.Context, id uuid.UUID, fill func(ctx context.Context) (domain.Snapshot, error)) (domain.Snapshot, error) {
	val, err := s.client.Get(ctx, snapshotKey(id)).Bytes()
	switch {
	case err == nil:
		var snap domain.Snapshot
		if err := json.Unmarshal(val, &snap); err == nil {
			observability.SnapshotCache.WithLabelValues("hit").Inc()
			return snap, nil
		}
		s.logger.WithField("request_id", id).Warn("dropping undecodable cached snapshot")
	case !errors.Is(err, redis.Nil):
		s.logger.WithField("request_id", id).WithField("error", err.Error()).Warn("snapshot cache unavailable")
	}
	observability.SnapshotCache.WithLabelValues("miss").Inc()

	version, err := s.client.Get(ctx, snapshotVersionKey(id)).Result()
	cacheable := err == nil || errors.Is(err, redis.Nil)

	snap, err := fill(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	ttl := s.ttl
	if snap.ActiveHold != nil {
		if until := snap.ActiveHold.ExpiresAt.Sub(s.now()); until < ttl {
			ttl = until
		}
	}
	if !cacheable || ttl <= 0 {
		return snap, nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return snap, nil
	}
	keys := []string{snapshotKey(id), snapshotVersionKey(id)}
	stored, err := storeSnapshot.Run(ctx, s.client, keys, version, data, ttl.Milliseconds()).Int()
	switch {
	case err != nil:
		s.logger.WithField("request_id", id).WithField("error", err.Error()).Warn("failed to cache snapshot")
	case stored == 0:
		observability.SnapshotCache.WithLabelValues("stale").Inc()
	}
	return snap, nil
}

// Notify drops the cached snapshot of every request the events touch and
// bumps its version, so a read that filled before the change cannot store
// its result.
func (s *Snapshots) Notify(ctx context.Context, events []domain.Event) {
	seen := make(map[uuid.UUID]bool, len(events))
	pipe := s.client.TxPipeline()
	for _, e := range events {
		if seen[e.RequestID] {
			continue
		}
		seen[e.RequestID] = true
		pipe.Incr(ctx, snapshotVersionKey(e.RequestID))
		pipe.Expire(ctx, snapshotVersionKey(e.RequestID), snapshotVersionTTL)
		pipe.Del(ctx, snapshotKey(e.RequestID))
	}
	if len(seen) == 0 {
		return
	}
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithField("error", err.Error()).Warn("failed to invalidate snapshots")
	}
}
