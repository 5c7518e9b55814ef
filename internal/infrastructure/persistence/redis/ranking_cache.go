package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/classpoints/classpoints-hub/internal/domain/report"
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrRankingEmpty is returned when no ranking has been published for a class.
	ErrRankingEmpty = errors.New("ranking_cache: ranking is empty")

	// ErrStudentNotRanked is returned when a student is absent from the ranking.
	ErrStudentNotRanked = errors.New("ranking_cache: student not in ranking")

	// ErrClassIDEmpty is returned when no class id is given.
	ErrClassIDEmpty = errors.New("ranking_cache: class id cannot be empty")

	// ErrInvalidPageParams is returned when invalid pagination parameters are provided.
	ErrInvalidPageParams = errors.New("ranking_cache: invalid page parameters")
)

// ══════════════════════════════════════════════════════════════════════════════
// RANKING CACHE
// ══════════════════════════════════════════════════════════════════════════════

// RankingCache publishes class rankings using Redis Sorted Sets.
//
// Architecture:
//   - Sorted Set "classpoints:ranking:order:{class}" stores studentID -> position
//   - Hash "classpoints:ranking:info:{class}" stores studentID -> RankingEntry JSON
//   - String "classpoints:ranking:meta:{class}" stores RankingMeta JSON
//
// The sorted set is scored by position, not by total, so equal totals keep
// the ledger's tie-break order.
type RankingCache struct {
	cache *Cache
	ttl   time.Duration
	now   func() time.Time
}

// RankingMeta describes one published ranking.
type RankingMeta struct {
	ClassID     string    `json:"class_id"`
	PublishedAt time.Time `json:"published_at"`
	Students    int       `json:"students"`
	TotalPoints int       `json:"total_points"`
}

// RankingPage is a page of a published ranking.
type RankingPage struct {
	Entries    []report.RankingEntry `json:"entries"`
	TotalCount int64                 `json:"total_count"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	HasNext    bool                  `json:"has_next"`
}

// NewRankingCache creates a RankingCache. A non-positive ttl means TTLRanking.
func NewRankingCache(cache *Cache, ttl time.Duration) *RankingCache {
	if ttl <= 0 {
		ttl = TTLRanking
	}
	return &RankingCache{cache: cache, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func orderKey(classID string) string { return PrefixRanking + "order:" + classID }
func infoKey(classID string) string  { return PrefixRanking + "info:" + classID }
func metaKey(classID string) string  { return PrefixRanking + "meta:" + classID }

// RankingChannel carries a RankingMeta after every publication.
func RankingChannel() string { return PubSubChannel("ranking") }

// ══════════════════════════════════════════════════════════════════════════════
// WRITE OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// PublishRanking replaces the class ranking atomically and announces it
// on RankingChannel.
func (r *RankingCache) PublishRanking(ctx context.Context, classID string, entries []report.RankingEntry) error {
	if classID == "" {
		return ErrClassIDEmpty
	}

	pipe := r.cache.Client().TxPipeline()
	pipe.Del(ctx, orderKey(classID), infoKey(classID))

	meta := RankingMeta{ClassID: classID, PublishedAt: r.now(), Students: len(entries)}
	if len(entries) > 0 {
		members := make([]redis.Z, 0, len(entries))
		info := make(map[string]any, len(entries))
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
			}
			members = append(members, redis.Z{Score: float64(e.Position), Member: e.StudentID})
			info[e.StudentID] = data
			meta.TotalPoints += e.Total
		}
		pipe.ZAdd(ctx, orderKey(classID), members...)
		pipe.HSet(ctx, infoKey(classID), info)
		pipe.Expire(ctx, orderKey(classID), r.ttl)
		pipe.Expire(ctx, infoKey(classID), r.ttl)
	}

	metaData, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	pipe.Set(ctx, metaKey(classID), metaData, r.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return r.cache.Publish(ctx, RankingChannel(), meta)
}

// Invalidate removes the published ranking of a class.
func (r *RankingCache) Invalidate(ctx context.Context, classID string) error {
	if classID == "" {
		return ErrClassIDEmpty
	}
	return r.cache.Delete(ctx, orderKey(classID), infoKey(classID), metaKey(classID))
}

// ══════════════════════════════════════════════════════════════════════════════
// READ OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// Top returns the first count entries of the published ranking.
func (r *RankingCache) Top(ctx context.Context, classID string, count int) ([]report.RankingEntry, error) {
	if count <= 0 {
		return nil, ErrInvalidPageParams
	}
	return r.rangeEntries(ctx, classID, 0, int64(count-1))
}

// Page returns a page of the published ranking. Page numbers start at 1.
func (r *RankingCache) Page(ctx context.Context, classID string, page, pageSize int) (*RankingPage, error) {
	if page < 1 || pageSize < 1 {
		return nil, ErrInvalidPageParams
	}
	if classID == "" {
		return nil, ErrClassIDEmpty
	}

	total, err := r.cache.Client().ZCard(ctx, orderKey(classID)).Result()
	if err != nil {
		return nil, err
	}

	start := int64((page - 1) * pageSize)
	entries, err := r.rangeEntries(ctx, classID, start, start+int64(pageSize)-1)
	if err != nil && !errors.Is(err, ErrRankingEmpty) {
		return nil, err
	}
	return &RankingPage{
		Entries:    entries,
		TotalCount: total,
		Page:       page,
		PageSize:   pageSize,
		HasNext:    start+int64(pageSize) < total,
	}, nil
}

// Entry returns one student's published entry.
func (r *RankingCache) Entry(ctx context.Context, classID, studentID string) (*report.RankingEntry, error) {
	if classID == "" {
		return nil, ErrClassIDEmpty
	}

	data, err := r.cache.Client().HGet(ctx, infoKey(classID), studentID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStudentNotRanked
		}
		return nil, err
	}

	var e report.RankingEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return &e, nil
}

// Meta returns the metadata of the last publication.
func (r *RankingCache) Meta(ctx context.Context, classID string) (*RankingMeta, error) {
	var meta RankingMeta
	if err := r.cache.Get(ctx, metaKey(classID), &meta); err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrRankingEmpty
		}
		return nil, err
	}
	return &meta, nil
}

// rangeEntries reads positions [start, stop] in ranking order.
func (r *RankingCache) rangeEntries(ctx context.Context, classID string, start, stop int64) ([]report.RankingEntry, error) {
	if classID == "" {
		return nil, ErrClassIDEmpty
	}

	ids, err := r.cache.Client().ZRange(ctx, orderKey(classID), start, stop).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrRankingEmpty
	}

	values, err := r.cache.Client().HMGet(ctx, infoKey(classID), ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]report.RankingEntry, 0, len(ids))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var e report.RankingEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
