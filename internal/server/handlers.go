package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"vote-escrow/internal/amount"
	"vote-escrow/internal/deposit"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/ledger"
	"vote-escrow/internal/metadata"
)

var validate = validator.New()

type createLockRequest struct {
	Caller          string `json:"caller" validate:"required,eth_addr"`
	Owner           string `json:"owner" validate:"omitempty,eth_addr"`
	Amount          string `json:"amount" validate:"required"`
	DurationSeconds int64  `json:"duration_seconds" validate:"required"`
}

type amountRequest struct {
	Caller string `json:"caller" validate:"required,eth_addr"`
	Amount string `json:"amount" validate:"required"`
}

type extendRequest struct {
	Caller          string `json:"caller" validate:"required,eth_addr"`
	DurationSeconds int64  `json:"duration_seconds" validate:"required"`
}

type callerRequest struct {
	Caller string `json:"caller" validate:"required,eth_addr"`
}

type pointView struct {
	Bias  string `json:"bias"`
	Slope string `json:"slope"`
	TS    int64  `json:"ts"`
	Block uint64 `json:"block"`
}

type positionView struct {
	ID        uint64 `json:"id"`
	Owner     string `json:"owner"`
	Amount    string `json:"amount"`
	Display   string `json:"amount_display"`
	UnlockAt  int64  `json:"unlock_at"`
	Epoch     uint64 `json:"epoch"`
	Balance   string `json:"balance,omitempty"`
	Withdrawn bool   `json:"withdrawn"`
}

func toPointView(p ledger.Point) pointView {
	return pointView{Bias: p.Bias.String(), Slope: p.Slope.String(), TS: p.TS, Block: p.Block}
}

func (s *Server) toPositionView(p escrow.Position) positionView {
	return positionView{
		ID:        p.ID,
		Owner:     p.Owner.Hex(),
		Amount:    p.Amount.String(),
		Display:   amount.Format(p.Amount, s.decimals),
		UnlockAt:  p.End,
		Epoch:     p.Epoch,
		Withdrawn: p.Owner == (common.Address{}),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"epoch":   s.escrow.Epoch(),
	})
}

func (s *Server) handleCreateLock(w http.ResponseWriter, r *http.Request) {
	var req createLockRequest
	if !decode(w, r, &req) {
		return
	}
	value, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	caller := common.HexToAddress(req.Caller)
	owner := caller
	if req.Owner != "" {
		owner = common.HexToAddress(req.Owner)
	}

	duration, err := escrow.Seconds(req.DurationSeconds)
	if err != nil {
		s.fail(w, err)
		return
	}
	id, err := s.escrow.CreateLockFor(r.Context(), caller, owner, value, duration)
	if err != nil {
		s.fail(w, err)
		return
	}
	pos, _, err := s.escrow.Position(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toPositionView(pos))
}

func (s *Server) handleIncreaseAmount(w http.ResponseWriter, r *http.Request) {
	s.topUp(w, r, s.escrow.IncreaseAmount)
}

func (s *Server) handleDepositFor(w http.ResponseWriter, r *http.Request) {
	s.topUp(w, r, s.escrow.DepositFor)
}

func (s *Server) topUp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, caller common.Address, id uint64, extra *big.Int) error) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	value, ok := s.parseAmount(w, req.Amount)
	if !ok {
		return
	}
	if err := op(r.Context(), common.HexToAddress(req.Caller), id, value); err != nil {
		s.fail(w, err)
		return
	}
	s.writePosition(w, r, id)
}

func (s *Server) handleExtendLock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req extendRequest
	if !decode(w, r, &req) {
		return
	}
	duration, err := escrow.Seconds(req.DurationSeconds)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.escrow.ExtendLock(r.Context(), common.HexToAddress(req.Caller), id, duration); err != nil {
		s.fail(w, err)
		return
	}
	s.writePosition(w, r, id)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req callerRequest
	if !decode(w, r, &req) {
		return
	}
	paid, err := s.escrow.Withdraw(r.Context(), common.HexToAddress(req.Caller), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             id,
		"amount":         paid.String(),
		"amount_display": amount.Format(paid, s.decimals),
	})
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	var (
		list []escrow.Position
		err  error
	)
	if r.URL.Query().Get("withdrawable") == "true" {
		list, err = s.escrow.Withdrawable(r.Context())
	} else {
		list, err = s.escrow.Positions(r.Context())
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	var owner *common.Address
	if raw := r.URL.Query().Get("owner"); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "owner must be a hex address")
			return
		}
		addr := common.HexToAddress(raw)
		owner = &addr
	}

	out := make([]positionView, 0, len(list))
	for _, p := range list {
		if owner != nil && p.Owner != *owner {
			continue
		}
		out = append(out, s.toPositionView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

func (s *Server) handleGetLock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writePosition(w, r, id)
}

func (s *Server) writePosition(w http.ResponseWriter, r *http.Request, id uint64) {
	pos, found, err := s.escrow.Position(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("lock %d not found", id))
		return
	}
	balance, err := s.escrow.CurrentBalance(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	view := s.toPositionView(pos)
	view.Balance = balance.String()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLockBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	var (
		balance *big.Int
		err     error
	)
	switch {
	case q.Get("block") != "":
		block, perr := strconv.ParseUint(q.Get("block"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "block must be an unsigned integer")
			return
		}
		balance, err = s.escrow.BalanceOfPositionAtBlock(r.Context(), id, block)
	case q.Get("t") != "":
		ts, perr := strconv.ParseInt(q.Get("t"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "t must be a unix timestamp")
			return
		}
		balance = s.escrow.BalanceOfPosition(id, ts)
	default:
		balance, err = s.escrow.CurrentBalance(r.Context(), id)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              id,
		"balance":         balance.String(),
		"balance_display": amount.Format(balance, s.decimals),
	})
}

func (s *Server) handleLockHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history := s.escrow.PositionHistory(id)
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, fmt.Sprintf("lock %d not found", id))
		return
	}
	points := make([]pointView, 0, len(history))
	for _, p := range history {
		points = append(points, toPointView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"epoch":  s.escrow.PositionEpoch(id),
		"points": points,
	})
}

func (s *Server) handleTokenURI(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	uri, err := metadata.TokenURI(r.Context(), s.escrow, id, s.decimals, s.symbol)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "uri": uri})
}

func (s *Server) handleSupply(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		total *big.Int
		err   error
	)
	switch {
	case q.Get("block") != "":
		block, perr := strconv.ParseUint(q.Get("block"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "block must be an unsigned integer")
			return
		}
		total, err = s.escrow.TotalWeightAtBlock(r.Context(), block)
	case q.Get("t") != "":
		ts, perr := strconv.ParseInt(q.Get("t"), 10, 64)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "t must be a unix timestamp")
			return
		}
		total, err = s.escrow.TotalWeight(r.Context(), ts)
	default:
		total, err = s.escrow.CurrentTotal(r.Context())
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"supply":         total.String(),
		"supply_display": amount.Format(total, s.decimals),
	})
}

func (s *Server) handleEpoch(w http.ResponseWriter, r *http.Request) {
	seq := s.escrow.Epoch()
	p, _ := s.escrow.GlobalPoint(seq)
	writeJSON(w, http.StatusOK, map[string]any{"epoch": seq, "point": toPointView(p)})
}

func (s *Server) handleGlobalPoint(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "seq must be an unsigned integer")
		return
	}
	p, ok := s.escrow.GlobalPoint(seq)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("global point %d not recorded", seq))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"epoch": seq, "point": toPointView(p)})
}

func (s *Server) handleCheckpoint(w http.ResponseWriter, r *http.Request) {
	n, err := s.escrow.Checkpoint(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": n, "epoch": s.escrow.Epoch()})
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotImplemented, "operations journal not configured")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 || v > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = v
	}
	ops, err := s.journal.ListOperations(r.Context(), limit)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]map[string]any, 0, len(ops))
	for _, op := range ops {
		out = append(out, map[string]any{
			"id":          op.ID.String(),
			"kind":        string(op.Kind),
			"position_id": op.PositionID,
			"actor":       op.Actor.Hex(),
			"amount":      op.Amount.String(),
			"at":          op.At,
			"block":       op.Block,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"operations": out})
}

func (s *Server) parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	v, err := amount.Parse(raw, s.decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return v, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			writeError(w, http.StatusBadRequest, strings.Join(fields, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, escrow.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, escrow.ErrNoActiveLock), errors.Is(err, metadata.ErrTokenNotFound):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrLockNotExpired),
		errors.Is(err, escrow.ErrDurationNotIncreased),
		errors.Is(err, deposit.ErrInsufficientBalance),
		errors.Is(err, deposit.ErrInsufficientAllowance):
		return http.StatusConflict
	case escrow.IsValidation(err), errors.Is(err, deposit.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
