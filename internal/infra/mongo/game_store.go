package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/domain"
)

const gamesCollection = "games"

// GameStore keeps one document per game in the games collection. Guarded
// updates become a filtered UpdateOne, so conditions and writes are applied
// by the server in one step.
type GameStore struct {
	games *mongo.Collection
	feed  *app.Feed
}

func NewGameStore(client *Client) *GameStore {
	return &GameStore{
		games: client.Database.Collection(gamesCollection),
		feed:  app.NewFeed(),
	}
}

// EnsureIndexes creates the unique code index.
func (s *GameStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.games.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create games index: %w", err)
	}
	return nil
}

func (s *GameStore) Create(ctx context.Context, game domain.Game) error {
	_, err := s.games.InsertOne(ctx, game)
	if mongo.IsDuplicateKeyError(err) {
		return domain.ErrGameExists
	}
	if err != nil {
		return fmt.Errorf("insert game %s: %v: %w", game.Code, err, domain.ErrUnavailable)
	}
	s.publish(ctx, game.Code)
	return nil
}

func (s *GameStore) Get(ctx context.Context, code string) (domain.Game, error) {
	var g domain.Game
	err := s.games.FindOne(ctx, bson.M{"code": code}).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("find game %s: %v: %w", code, err, domain.ErrUnavailable)
	}
	return g, nil
}

func (s *GameStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := s.games.CountDocuments(ctx, bson.M{"code": code}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("count game %s: %v: %w", code, err, domain.ErrUnavailable)
	}
	return n > 0, nil
}

func (s *GameStore) Update(ctx context.Context, code string, u domain.Update) error {
	res, err := s.games.UpdateOne(ctx, Filter(code, u.When), Changes(u))
	if err != nil {
		return fmt.Errorf("update game %s: %v: %w", code, err, domain.ErrUnavailable)
	}
	if res.MatchedCount == 0 {
		exists, err := s.Exists(ctx, code)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrGameNotFound
		}
		return domain.ErrConflict
	}
	s.publish(ctx, code)
	return nil
}

// Subscribe streams snapshots of writes made through this store instance.
func (s *GameStore) Subscribe(ctx context.Context, code string) (<-chan domain.Game, func(), error) {
	g, err := s.Get(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.feed.Subscribe(code, g)
	return ch, cancel, nil
}

func (s *GameStore) publish(ctx context.Context, code string) {
	if s.feed.Subscribers(code) == 0 {
		return
	}
	g, err := s.Get(ctx, code)
	if err != nil {
		log.Error().Err(err).Str("game", code).Msg("reload game for subscribers")
		return
	}
	s.feed.Publish(g)
}

// Filter translates update conditions into a query on the game document.
// Null fields count as missing.
func Filter(code string, conds []domain.Condition) bson.M {
	filter := bson.M{"code": code}
	if len(conds) == 0 {
		return filter
	}
	and := make(bson.A, 0, len(conds))
	for _, c := range conds {
		switch c.Op {
		case domain.OpEquals:
			and = append(and, bson.M{c.Path: c.Value})
		case domain.OpNotEquals:
			and = append(and, bson.M{c.Path: bson.M{"$ne": c.Value}})
		case domain.OpMissing:
			and = append(and, bson.M{c.Path: nil})
		case domain.OpPresent:
			and = append(and, bson.M{c.Path: bson.M{"$ne": nil}})
		}
	}
	filter["$and"] = and
	return filter
}

// Changes builds the update document. ServerTimestamp values use $currentDate.
func Changes(u domain.Update) bson.M {
	set := bson.M{}
	current := bson.M{}
	for path, v := range u.Set {
		if domain.IsServerTimestamp(v) {
			current[path] = true
			continue
		}
		set[path] = v
	}
	changes := bson.M{}
	if len(set) > 0 {
		changes["$set"] = set
	}
	if len(current) > 0 {
		changes["$currentDate"] = current
	}
	return changes
}
