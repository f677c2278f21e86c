package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"overunder/internal/domain"
	"overunder/internal/storage"
)

// GameStore is an in-memory implementation of storage.GameStore.
type GameStore struct {
	db *db
}

var _ storage.GameStore = (*GameStore)(nil)

// Create inserts a new game and assigns its ID.
func (s *GameStore) Create(_ context.Context, g *domain.Game) error {
	if g == nil || g.ContractAddress == "" {
		return storage.ErrInvalidInput
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.st.games {
		if g.InitiatorSignature != "" && existing.InitiatorSignature == g.InitiatorSignature {
			return storage.ErrDuplicateKey
		}
	}

	s.db.st.nextGameID++
	g.ID = s.db.st.nextGameID
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	s.db.st.games[g.ID] = g.Clone()
	return nil
}

// Get retrieves a game by ID.
func (s *GameStore) Get(_ context.Context, id int64) (*domain.Game, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	g, ok := s.db.st.games[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return g.Clone(), nil
}

// GetForUpdate is Get; InTx already serializes writers.
func (s *GameStore) GetForUpdate(ctx context.Context, id int64) (*domain.Game, error) {
	return s.Get(ctx, id)
}

// Update overwrites a stored game.
func (s *GameStore) Update(_ context.Context, g *domain.Game) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	if _, ok := s.db.st.games[g.ID]; !ok {
		return storage.ErrNotFound
	}
	g.UpdatedAt = time.Now().UTC()
	s.db.st.games[g.ID] = g.Clone()
	return nil
}

// Latest returns the most recently created game.
func (s *GameStore) Latest(_ context.Context, activeOnly bool) (*domain.Game, error) {
	games := s.filter(func(g *domain.Game) bool { return !activeOnly || g.IsActive() })
	if len(games) == 0 {
		return nil, storage.ErrNotFound
	}
	return games[len(games)-1], nil
}

// ActiveByContract returns the active game on a contract.
func (s *GameStore) ActiveByContract(_ context.Context, contract string) (*domain.Game, error) {
	games := s.filter(func(g *domain.Game) bool { return g.IsActive() && g.ContractAddress == contract })
	if len(games) == 0 {
		return nil, storage.ErrNotFound
	}
	return games[0], nil
}

// ByInitiatorSignature returns the game started by signature.
func (s *GameStore) ByInitiatorSignature(_ context.Context, signature string) (*domain.Game, error) {
	games := s.filter(func(g *domain.Game) bool { return g.InitiatorSignature == signature })
	if len(games) == 0 {
		return nil, storage.ErrNotFound
	}
	return games[0], nil
}

// ListActive returns active games, oldest first.
func (s *GameStore) ListActive(_ context.Context) ([]*domain.Game, error) {
	return s.filter((*domain.Game).IsActive), nil
}

// ListPendingMerge returns ended games whose merge has not completed.
func (s *GameStore) ListPendingMerge(_ context.Context) ([]*domain.Game, error) {
	return s.filter((*domain.Game).MergePending), nil
}

// ListRedeemable returns merged games with claimable lamports left.
func (s *GameStore) ListRedeemable(_ context.Context) ([]*domain.Game, error) {
	return s.filter(func(g *domain.Game) bool {
		return g.MergedAt != nil && g.ClaimableWinningPotInSol >= 1
	}), nil
}

// List returns one page of games, newest first.
func (s *GameStore) List(_ context.Context, q storage.GameQuery) (*storage.GamePage, error) {
	page, limit := normalizePage(q.Page, q.Limit)
	search := strings.ToLower(q.Search)

	games := s.filter(func(g *domain.Game) bool {
		if g.IsActive() == q.Ended {
			return false
		}
		if search == "" {
			return true
		}
		return strings.Contains(strings.ToLower(g.MemecoinName), search) ||
			strings.Contains(strings.ToLower(g.MemecoinSymbol), search) ||
			strings.Contains(strings.ToLower(g.ContractAddress), search)
	})

	// newest first
	for i, j := 0, len(games)-1; i < j; i, j = i+1, j-1 {
		games[i], games[j] = games[j], games[i]
	}

	result := &storage.GamePage{Total: len(games), Page: page, Limit: limit}
	start := (page - 1) * limit
	if start < len(games) {
		end := start + limit
		if end > len(games) {
			end = len(games)
		}
		result.Games = games[start:end]
	}
	return result, nil
}

// filter returns copies of matching games ordered by creation, oldest first.
func (s *GameStore) filter(keep func(*domain.Game) bool) []*domain.Game {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var result []*domain.Game
	for _, g := range s.db.st.games {
		if keep(g) {
			result = append(result, g.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	return page, limit
}
