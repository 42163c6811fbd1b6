package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/ranking"
	"github.com/redis/go-redis/v9"
)

// createUserScript reserves the name and writes the user hash in one step.
// Returns 0 when the name is taken.
var createUserScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], 'id', ARGV[2], 'name', ARGV[1], 'total_points', '0', 'created_at', ARGV[3], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
return 1
`)

// incrementScript adds a delta to an existing user's total and returns the
// updated hash, or nil when the user does not exist.
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return false
end
redis.call('HINCRBY', KEYS[1], 'total_points', ARGV[1])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[2])
return redis.call('HGETALL', KEYS[1])
`)

// LedgerStore provides a Redis-based ledger of users and claim history.
//
// Users live in hashes indexed by a creation-time sorted set and a
// name-to-id hash. History entries are hashes indexed by a global and a
// per-user sorted set scored by timestamp.
type LedgerStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerStore connects to Redis and creates a ledger store
func NewLedgerStore(cfg *config.RedisConfig, logger *slog.Logger) (*LedgerStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewLedgerStoreWithClient(client, cfg.KeyPrefix, logger), nil
}

// NewLedgerStoreWithClient wraps an existing client
func NewLedgerStoreWithClient(client *redis.Client, prefix string, logger *slog.Logger) *LedgerStore {
	return &LedgerStore{
		client: client,
		prefix: prefix,
		logger: logger,
		now:    utcNow,
	}
}

// Close closes the Redis connection
func (s *LedgerStore) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *LedgerStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *LedgerStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func (s *LedgerStore) namesKey() string {
	return s.prefix + "users:names"
}

func (s *LedgerStore) usersKey() string {
	return s.prefix + "users:created"
}

func (s *LedgerStore) historyKey(entryID string) string {
	return s.prefix + "history:" + entryID
}

// historyIndexKey returns the global feed index, or a user's feed index
func (s *LedgerStore) historyIndexKey(userID string) string {
	if userID == "" {
		return s.prefix + "history:all"
	}
	return s.prefix + "history:user:" + userID
}

// CreateUser creates a user with a unique name
func (s *LedgerStore) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	user, err := domain.NewUser(name, s.now())
	if err != nil {
		return nil, err
	}

	created, err := s.insertUser(ctx, user)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, domain.ErrDuplicateName
	}
	return &user, nil
}

// CreateUsers creates users in order, skipping names that already exist
func (s *LedgerStore) CreateUsers(ctx context.Context, names []string) (int, error) {
	inserted := 0
	for _, name := range names {
		user, err := domain.NewUser(name, s.now())
		if err != nil {
			continue
		}
		created, err := s.insertUser(ctx, user)
		if err != nil {
			return inserted, err
		}
		if created {
			inserted++
		}
	}
	return inserted, nil
}

func (s *LedgerStore) insertUser(ctx context.Context, user domain.User) (bool, error) {
	keys := []string{s.namesKey(), s.userKey(user.ID), s.usersKey()}
	res, err := createUserScript.Run(ctx, s.client, keys, user.Name, user.ID, user.CreatedAt.UnixMicro()).Int()
	if err != nil {
		return false, fmt.Errorf("creating user: %w", err)
	}
	return res == 1, nil
}

// CountUsers returns the number of users
func (s *LedgerStore) CountUsers(ctx context.Context) (int64, error) {
	count, err := s.client.ZCard(ctx, s.usersKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return count, nil
}

// ListUsers returns all users, newest first
func (s *LedgerStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	ids, err := s.client.ZRevRange(ctx, s.usersKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return s.loadUsers(ctx, ids)
}

func (s *LedgerStore) loadUsers(ctx context.Context, ids []string) ([]domain.User, error) {
	if len(ids) == 0 {
		return []domain.User{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.userKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}

	users := make([]domain.User, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		user, err := parseUser(fields)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

// IncrementTotal atomically adds delta to a user's total
func (s *LedgerStore) IncrementTotal(ctx context.Context, userID string, delta int64) (*domain.User, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{s.userKey(userID)}, delta, s.now().UnixMicro()).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("incrementing total: %w", err)
	}

	fields := make(map[string]string, len(res)/2)
	for i := 0; i+1 < len(res); i += 2 {
		k, _ := res[i].(string)
		v, _ := res[i+1].(string)
		fields[k] = v
	}

	user, err := parseUser(fields)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RankedUsers returns all users in leaderboard order
func (s *LedgerStore) RankedUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	ranking.Sort(users)
	return users, nil
}

// AppendHistory records a claim in the global and per-user feeds
func (s *LedgerStore) AppendHistory(ctx context.Context, userID string, points int) (*domain.HistoryEntry, error) {
	if !domain.ValidPoints(points) {
		return nil, domain.ErrInvalidPoints
	}

	entry := domain.HistoryEntry{
		ID:        domain.NewID(),
		UserID:    userID,
		Points:    points,
		Timestamp: s.now(),
	}
	score := float64(entry.Timestamp.UnixMicro())

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.historyKey(entry.ID),
			"id", entry.ID,
			"user_id", entry.UserID,
			"points", entry.Points,
			"timestamp", entry.Timestamp.UnixMicro(),
		)
		pipe.ZAdd(ctx, s.historyIndexKey(""), redis.Z{Score: score, Member: entry.ID})
		pipe.ZAdd(ctx, s.historyIndexKey(userID), redis.Z{Score: score, Member: entry.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("appending history: %w", err)
	}
	return &entry, nil
}

// ListHistory returns a window of the feed with user names resolved
func (s *LedgerStore) ListHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryItem, error) {
	if q.Limit <= 0 {
		return []domain.HistoryItem{}, nil
	}

	start := int64(q.Offset)
	ids, err := s.client.ZRevRange(ctx, s.historyIndexKey(q.UserID), start, start+int64(q.Limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if len(ids) == 0 {
		return []domain.HistoryItem{}, nil
	}

	pipe := s.client.Pipeline()
	entryCmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		entryCmds[i] = pipe.HGetAll(ctx, s.historyKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	items := make([]domain.HistoryItem, 0, len(ids))
	for _, cmd := range entryCmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		item, err := parseHistoryItem(fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	if err := s.resolveNames(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

// resolveNames fills UserName from the current user records
func (s *LedgerStore) resolveNames(ctx context.Context, items []domain.HistoryItem) error {
	pipe := s.client.Pipeline()
	cmds := make(map[string]*redis.StringCmd)
	for _, item := range items {
		if _, ok := cmds[item.UserID]; !ok {
			cmds[item.UserID] = pipe.HGet(ctx, s.userKey(item.UserID), "name")
		}
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("resolving user names: %w", err)
	}

	for i := range items {
		name, err := cmds[items[i].UserID].Result()
		if err != nil {
			continue
		}
		items[i].UserName = &name
	}
	return nil
}

// CountHistory returns the number of entries in the feed
func (s *LedgerStore) CountHistory(ctx context.Context, userID string) (int64, error) {
	count, err := s.client.ZCard(ctx, s.historyIndexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return count, nil
}

// SumHistory returns the total points recorded for a user
func (s *LedgerStore) SumHistory(ctx context.Context, userID string) (int64, error) {
	ids, err := s.client.ZRange(ctx, s.historyIndexKey(userID), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("listing user history: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.historyKey(id), "points")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("summing history: %w", err)
	}

	var sum int64
	for _, cmd := range cmds {
		points, err := cmd.Int64()
		if err != nil {
			continue
		}
		sum += points
	}
	return sum, nil
}

func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func parseMicros(v string) (time.Time, error) {
	micros, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(micros).UTC(), nil
}

func parseUser(fields map[string]string) (domain.User, error) {
	total, err := strconv.ParseInt(fields["total_points"], 10, 64)
	if err != nil {
		return domain.User{}, fmt.Errorf("parsing total_points: %w", err)
	}
	createdAt, err := parseMicros(fields["created_at"])
	if err != nil {
		return domain.User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	updatedAt, err := parseMicros(fields["updated_at"])
	if err != nil {
		return domain.User{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return domain.User{
		ID:          fields["id"],
		Name:        fields["name"],
		TotalPoints: total,
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

func parseHistoryItem(fields map[string]string) (domain.HistoryItem, error) {
	points, err := strconv.Atoi(fields["points"])
	if err != nil {
		return domain.HistoryItem{}, fmt.Errorf("parsing points: %w", err)
	}
	ts, err := parseMicros(fields["timestamp"])
	if err != nil {
		return domain.HistoryItem{}, fmt.Errorf("parsing timestamp: %w", err)
	}
	return domain.HistoryItem{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Points:    points,
		Timestamp: ts,
	}, nil
}
