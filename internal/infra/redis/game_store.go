package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/infra/document"
)

const maxTxRetries = 5

// GameStore keeps each game as a JSON document under game:{code}.
// Updates run as WATCH/MULTI transactions and every committed write is
// published on game:{code}:events so any instance can stream snapshots.
type GameStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewGameStore(client *redis.Client, ttl time.Duration) *GameStore {
	return &GameStore{client: client, ttl: ttl}
}

func (s *GameStore) Create(ctx context.Context, game domain.Game) error {
	tree, err := document.FromGame(game)
	if err != nil {
		return err
	}
	raw, err := tree.Bytes()
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.key(game.Code), raw, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create game %s: %v: %w", game.Code, err, domain.ErrUnavailable)
	}
	if !ok {
		return domain.ErrGameExists
	}
	_ = s.client.Publish(ctx, s.channel(game.Code), raw).Err()
	return nil
}

func (s *GameStore) Get(ctx context.Context, code string) (domain.Game, error) {
	raw, err := s.client.Get(ctx, s.key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Game{}, domain.ErrGameNotFound
	}
	if err != nil {
		return domain.Game{}, fmt.Errorf("get game %s: %v: %w", code, err, domain.ErrUnavailable)
	}
	return decode(raw)
}

func (s *GameStore) Exists(ctx context.Context, code string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(code)).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %v: %w", code, err, domain.ErrUnavailable)
	}
	return n > 0, nil
}

// Update checks u's conditions and writes it inside one optimistic
// transaction. A concurrent write to the key restarts the attempt.
func (s *GameStore) Update(ctx context.Context, code string, u domain.Update) error {
	key := s.key(code)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrGameNotFound
		}
		if err != nil {
			return err
		}
		tree, err := document.Parse(raw)
		if err != nil {
			return err
		}
		if err := tree.Apply(u, s.serverTime(ctx, tx)); err != nil {
			return err
		}
		next, err := tree.Bytes()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			pipe.Publish(ctx, s.channel(code), next)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrGameNotFound):
			return err
		default:
			return fmt.Errorf("update game %s: %v: %w", code, err, domain.ErrUnavailable)
		}
	}
	return fmt.Errorf("update game %s: too much contention: %w", code, domain.ErrUnavailable)
}

// Subscribe listens on the game's channel and streams decoded snapshots. The
// first value is the document as read after the subscription is confirmed.
func (s *GameStore) Subscribe(ctx context.Context, code string) (<-chan domain.Game, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel(code))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %v: %w", code, err, domain.ErrUnavailable)
	}
	initial, err := s.Get(ctx, code)
	if err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan domain.Game, 8)
	out <- initial
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(out)
		defer close(stopped)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				g, err := decode([]byte(msg.Payload))
				if err != nil {
					continue
				}
				select {
				case out <- g:
				default:
					// drop the oldest snapshot
					select {
					case <-out:
					default:
					}
					out <- g
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
			<-stopped
		})
	}
	return out, cancel, nil
}

// serverTime prefers the redis clock for server timestamps.
func (s *GameStore) serverTime(ctx context.Context, tx *redis.Tx) time.Time {
	now, err := tx.Time(ctx).Result()
	if err != nil {
		return time.Now().UTC()
	}
	return now.UTC()
}

func (s *GameStore) key(code string) string {
	return "game:" + code
}

func (s *GameStore) channel(code string) string {
	return "game:" + code + ":events"
}

func decode(raw []byte) (domain.Game, error) {
	tree, err := document.Parse(raw)
	if err != nil {
		return domain.Game{}, fmt.Errorf("stored game: %w", err)
	}
	return tree.Game()
}
