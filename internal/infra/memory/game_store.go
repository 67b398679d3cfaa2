package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"panel-quiz-service/internal/app"
	"panel-quiz-service/internal/domain"
	"panel-quiz-service/internal/infra/document"
)

// GameStore is an in-memory implementation of app.GameStore. Documents are
// kept as encoded JSON so readers never share state with the store.
type GameStore struct {
	mu    sync.Mutex
	docs  map[string][]byte
	feed  *app.Feed
	clock func() time.Time
}

func NewGameStore() *GameStore {
	return &GameStore{
		docs:  make(map[string][]byte),
		feed:  app.NewFeed(),
		clock: time.Now,
	}
}

// WithClock overrides the clock used for server timestamps.
func (s *GameStore) WithClock(clock func() time.Time) *GameStore {
	s.clock = clock
	return s
}

func (s *GameStore) Create(_ context.Context, game domain.Game) error {
	tree, err := document.FromGame(game)
	if err != nil {
		return err
	}
	raw, err := tree.Bytes()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[game.Code]; ok {
		return domain.ErrGameExists
	}
	s.docs[game.Code] = raw
	s.publishLocked(game.Code, raw)
	return nil
}

func (s *GameStore) Get(_ context.Context, code string) (domain.Game, error) {
	s.mu.Lock()
	raw, ok := s.docs[code]
	s.mu.Unlock()
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return decode(raw)
}

func (s *GameStore) Exists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.docs[code]
	return ok, nil
}

// Update applies u atomically: conditions and writes happen under one lock.
func (s *GameStore) Update(_ context.Context, code string, u domain.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[code]
	if !ok {
		return domain.ErrGameNotFound
	}
	tree, err := document.Parse(raw)
	if err != nil {
		return err
	}
	if err := tree.Apply(u, s.clock()); err != nil {
		return err
	}
	next, err := tree.Bytes()
	if err != nil {
		return err
	}
	s.docs[code] = next
	s.publishLocked(code, next)
	return nil
}

// Subscribe streams snapshots of code, starting with the current one.
func (s *GameStore) Subscribe(_ context.Context, code string) (<-chan domain.Game, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.docs[code]
	if !ok {
		return nil, nil, domain.ErrGameNotFound
	}
	g, err := decode(raw)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := s.feed.Subscribe(code, g)
	return ch, cancel, nil
}

func (s *GameStore) publishLocked(code string, raw []byte) {
	if s.feed.Subscribers(code) == 0 {
		return
	}
	g, err := decode(raw)
	if err != nil {
		return
	}
	s.feed.Publish(g)
}

func decode(raw []byte) (domain.Game, error) {
	tree, err := document.Parse(raw)
	if err != nil {
		return domain.Game{}, fmt.Errorf("stored game: %w", err)
	}
	return tree.Game()
}
