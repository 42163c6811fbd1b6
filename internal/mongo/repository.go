package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/points-leaderboard/internal/config"
	"github.com/points-leaderboard/internal/domain"
	"github.com/points-leaderboard/internal/ranking"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection   = "users"
	historyCollection = "histories"
	duplicateKeyCode  = 11000
)

// leaderboardCollation makes name ordering case-insensitive in English
var leaderboardCollation = &options.Collation{Locale: "en", Strength: 2}

type userDoc struct {
	ID          string    `bson:"_id"`
	Name        string    `bson:"name"`
	TotalPoints int64     `bson:"totalPoints"`
	CreatedAt   time.Time `bson:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt"`
}

func (d userDoc) toDomain() domain.User {
	return domain.User{
		ID:          d.ID,
		Name:        d.Name,
		TotalPoints: d.TotalPoints,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

type historyDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"userId"`
	Points    int       `bson:"points"`
	Timestamp time.Time `bson:"timestamp"`
}

// Repository provides a MongoDB-based ledger of users and claim history
type Repository struct {
	client  *mongo.Client
	db      *mongo.Database
	users   *mongo.Collection
	history *mongo.Collection
	logger  *slog.Logger
	now     func() time.Time
}

// Connect dials MongoDB, retrying with backoff to tolerate startup races
func Connect(ctx context.Context, cfg *config.MongoConfig, logger *slog.Logger) (*Repository, error) {
	backoff := time.Second
	var (
		client *mongo.Client
		err    error
	)
	for attempt := 1; attempt <= cfg.ConnAttempts; attempt++ {
		client, err = connect(ctx, cfg.URI, cfg.Timeout)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to mongodb",
			"attempt", attempt,
			"max_attempts", cfg.ConnAttempts,
			"error", err,
		)
		if attempt < cfg.ConnAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb after %d attempts: %w", cfg.ConnAttempts, err)
	}

	r := NewRepository(client.Database(cfg.Database), logger)
	r.client = client
	return r, nil
}

func connect(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewRepository creates a repository on an existing database handle
func NewRepository(db *mongo.Database, logger *slog.Logger) *Repository {
	return &Repository{
		db:      db,
		users:   db.Collection(usersCollection),
		history: db.Collection(historyCollection),
		logger:  logger,
		now:     utcNow,
	}
}

// Close disconnects the client when the repository owns it
func (r *Repository) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
}

// EnsureIndexes creates the unique name index and the sort indexes
func (r *Repository) EnsureIndexes(ctx context.Context) error {
	userIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "totalPoints", Value: -1},
				{Key: "updatedAt", Value: 1},
				{Key: "name", Value: 1},
			},
			Options: options.Index().SetCollation(leaderboardCollation),
		},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	if _, err := r.users.Indexes().CreateMany(ctx, userIndexes); err != nil {
		return fmt.Errorf("creating user indexes: %w", err)
	}

	historyIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := r.history.Indexes().CreateMany(ctx, historyIndexes); err != nil {
		return fmt.Errorf("creating history indexes: %w", err)
	}

	r.logger.Info("mongodb indexes ensured")
	return nil
}

// CreateUser creates a user with a unique name
func (r *Repository) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	user, err := domain.NewUser(name, r.now())
	if err != nil {
		return nil, err
	}

	doc := userDoc{
		ID:        user.ID,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
	if _, err := r.users.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrDuplicateName
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &user, nil
}

// CreateUsers inserts every valid name that is not already taken and
// returns how many were created
func (r *Repository) CreateUsers(ctx context.Context, names []string) (int, error) {
	now := r.now()
	seen := make(map[string]bool, len(names))
	docs := make([]any, 0, len(names))
	for _, name := range names {
		name = domain.NormalizeName(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		docs = append(docs, userDoc{ID: domain.NewID(), Name: name, CreatedAt: now, UpdatedAt: now})
	}
	if len(docs) == 0 {
		return 0, nil
	}

	_, err := r.users.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err == nil {
		return len(docs), nil
	}

	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return 0, fmt.Errorf("creating users: %w", err)
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKeyCode {
			return 0, fmt.Errorf("creating users: %w", err)
		}
	}
	return len(docs) - len(bwe.WriteErrors), nil
}

// CountUsers returns the number of users
func (r *Repository) CountUsers(ctx context.Context) (int64, error) {
	n, err := r.users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// ListUsers returns all users, newest first
func (r *Repository) ListUsers(ctx context.Context) ([]domain.User, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	users, err := r.findUsers(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// IncrementTotal atomically adds delta to a user's total
func (r *Repository) IncrementTotal(ctx context.Context, userID string, delta int64) (*domain.User, error) {
	update := bson.D{
		{Key: "$inc", Value: bson.D{{Key: "totalPoints", Value: delta}}},
		{Key: "$set", Value: bson.D{{Key: "updatedAt", Value: r.now()}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc userDoc
	err := r.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: userID}}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("incrementing total: %w", err)
	}
	u := doc.toDomain()
	return &u, nil
}

// RankedUsers returns all users in leaderboard order
func (r *Repository) RankedUsers(ctx context.Context) ([]domain.User, error) {
	opts := options.Find().
		SetSort(bson.D{
			{Key: "totalPoints", Value: -1},
			{Key: "updatedAt", Value: 1},
			{Key: "name", Value: 1},
		}).
		SetCollation(leaderboardCollation)
	users, err := r.findUsers(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ranking users: %w", err)
	}
	// settle exact ties the server collation leaves unordered
	ranking.Sort(users)
	return users, nil
}

func (r *Repository) findUsers(ctx context.Context, opts *options.FindOptions) ([]domain.User, error) {
	cur, err := r.users.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}

	users := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toDomain())
	}
	return users, nil
}

// AppendHistory records one claim
func (r *Repository) AppendHistory(ctx context.Context, userID string, points int) (*domain.HistoryEntry, error) {
	if !domain.ValidPoints(points) {
		return nil, domain.ErrInvalidPoints
	}

	doc := historyDoc{
		ID:        domain.NewID(),
		UserID:    userID,
		Points:    points,
		Timestamp: r.now(),
	}
	if _, err := r.history.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("recording history: %w", err)
	}
	return &domain.HistoryEntry{
		ID:        doc.ID,
		UserID:    doc.UserID,
		Points:    doc.Points,
		Timestamp: doc.Timestamp,
	}, nil
}

// ListHistory returns a window of the history feed, newest first, joined
// with the current user names
func (r *Repository) ListHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.HistoryItem, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.Limit))

	cur, err := r.history.Find(ctx, historyFilter(q.UserID), opts)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	var docs []historyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	items := make([]domain.HistoryItem, 0, len(docs))
	if len(docs) == 0 {
		return items, nil
	}

	names, err := r.userNames(ctx, docs)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		item := domain.HistoryItem{
			ID:        d.ID,
			UserID:    d.UserID,
			Points:    d.Points,
			Timestamp: d.Timestamp.UTC(),
		}
		if name, ok := names[d.UserID]; ok {
			item.UserName = &name
		}
		items = append(items, item)
	}
	return items, nil
}

// userNames resolves the current names of the users referenced by docs
func (r *Repository) userNames(ctx context.Context, docs []historyDoc) (map[string]string, error) {
	ids := make([]string, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, d := range docs {
		if !seen[d.UserID] {
			seen[d.UserID] = true
			ids = append(ids, d.UserID)
		}
	}

	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	opts := options.Find().SetProjection(bson.D{{Key: "name", Value: 1}})
	cur, err := r.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("resolving user names: %w", err)
	}
	var users []userDoc
	if err := cur.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decoding user names: %w", err)
	}

	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	return names, nil
}

// CountHistory counts history entries, optionally for one user
func (r *Repository) CountHistory(ctx context.Context, userID string) (int64, error) {
	n, err := r.history.CountDocuments(ctx, historyFilter(userID))
	if err != nil {
		return 0, fmt.Errorf("counting history: %w", err)
	}
	return n, nil
}

// SumHistory returns the total points recorded for a user
func (r *Repository) SumHistory(ctx context.Context, userID string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: historyFilter(userID)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$points"}}},
		}}},
	}
	cur, err := r.history.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("summing history: %w", err)
	}
	var res []struct {
		Total int64 `bson:"total"`
	}
	if err := cur.All(ctx, &res); err != nil {
		return 0, fmt.Errorf("decoding history sum: %w", err)
	}
	if len(res) == 0 {
		return 0, nil
	}
	return res[0].Total, nil
}

func historyFilter(userID string) bson.D {
	if userID == "" {
		return bson.D{}
	}
	return bson.D{{Key: "userId", Value: userID}}
}

// utcNow matches the millisecond precision of BSON dates
func utcNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
