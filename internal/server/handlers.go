package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"overunder/internal/domain"
	"overunder/internal/engine"
	"overunder/internal/storage"
)

const maxListLimit = 100

type startBody struct {
	Contract  string `json:"contract"`
	Signature string `json:"signature"`
}

type signatureBody struct {
	Signature string `json:"signature"`
}

// pageMeta mirrors the pagination envelope the web client reads.
type pageMeta struct {
	Total       int `json:"total"`
	PerPage     int `json:"perPage"`
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
	FirstPage   int `json:"firstPage"`
}

type pageResponse struct {
	Meta pageMeta       `json:"meta"`
	Data []*domain.Game `json:"data"`
}

// Position is a wallet's holding in one active game.
type Position struct {
	GameID      int64 `json:"gameId"`
	OverTokens  int64 `json:"overTokens"`
	UnderTokens int64 `json:"underTokens"`
	Deposited   int64 `json:"deposited"` // lamports
	Withdrawn   int64 `json:"withdrawn"` // lamports
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(ended bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := storage.GameQuery{Ended: ended, Search: strings.TrimSpace(r.URL.Query().Get("search"))}

		var err error
		if q.Page, err = intParam(r, "page", 1); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
			return
		}
		if q.Limit, err = intParam(r, "limit", 10); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
			return
		}
		if q.Limit > maxListLimit {
			q.Limit = maxListLimit
		}

		page, err := s.store.Games().List(r.Context(), q)
		if err != nil {
			writeError(w, s.logger, r.Pattern, err)
			return
		}

		last := (page.Total + page.Limit - 1) / page.Limit
		if last < 1 {
			last = 1
		}
		games := page.Games
		if games == nil {
			games = []*domain.Game{}
		}
		writeJSON(w, http.StatusOK, pageResponse{
			Meta: pageMeta{Total: page.Total, PerPage: page.Limit, CurrentPage: page.Page, LastPage: last, FirstPage: 1},
			Data: games,
		})
	}
}

func (s *Server) handleShow(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusNotFound, errorBody{Message: "not found"})
		return
	}
	g, err := s.store.Games().Get(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, r.Pattern, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startBody
	if err := decode(w, r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}
	if body.Contract == "" || body.Signature == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "contract and signature are required"})
		return
	}

	res, err := s.starter.Start(r.Context(), engine.StartRequest{Contract: body.Contract, Signature: body.Signature})
	if err != nil {
		writeError(w, s.logger, r.Pattern, err)
		return
	}
	writeJSON(w, http.StatusCreated, res.Game)
}

func (s *Server) handleApply(op string, a Applier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body signatureBody
		if err := decode(w, r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
			return
		}
		if body.Signature == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Message: "signature is required"})
			return
		}

		applied, err := a.Apply(r.Context(), body.Signature)
		if err != nil {
			writeError(w, s.logger, "/v1/game/"+op, err)
			return
		}
		writeJSON(w, http.StatusCreated, nonNil(applied))
	}
}

func (s *Server) handleRedeemables(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("solana_wallet")
	if wallet == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "solana_wallet is required"})
		return
	}
	rows, err := s.store.Redeemables().ListByWallet(r.Context(), wallet)
	if err != nil {
		writeError(w, s.logger, r.Pattern, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rows))
}

// handlePositions sums a wallet's buys and sells in active games.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("solana_wallet")
	if wallet == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: "solana_wallet is required"})
		return
	}
	ctx := r.Context()

	active, err := s.store.Games().ListActive(ctx)
	if err != nil {
		writeError(w, s.logger, r.Pattern, err)
		return
	}
	ids := make([]int64, 0, len(active))
	for _, g := range active {
		ids = append(ids, g.ID)
	}

	buys, err := s.store.Buys().ListByWallet(ctx, wallet, ids)
	if err != nil {
		writeError(w, s.logger, r.Pattern, err)
		return
	}
	sells, err := s.store.Sells().ListByWallet(ctx, wallet, ids)
	if err != nil {
		writeError(w, s.logger, r.Pattern, err)
		return
	}

	byGame := make(map[int64]*Position)
	get := func(id int64) *Position {
		p, ok := byGame[id]
		if !ok {
			p = &Position{GameID: id}
			byGame[id] = p
		}
		return p
	}
	for _, b := range buys {
		p := get(b.GameID)
		p.Deposited += b.TotalInSolana
		if b.Side == domain.SideOver {
			p.OverTokens += b.TokensReceived
		} else {
			p.UnderTokens += b.TokensReceived
		}
	}
	for _, sl := range sells {
		p := get(sl.GameID)
		p.Withdrawn += sl.SolReceived
		if sl.Side == domain.SideOver {
			p.OverTokens -= sl.SellTokenAmount
		} else {
			p.UnderTokens -= sl.SellTokenAmount
		}
	}

	out := make([]Position, 0, len(byGame))
	for _, p := range byGame {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	writeJSON(w, http.StatusOK, out)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
