package ws

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/market"
	"github.com/ThetaSpace/BandLend-Preview-Engine/internal/preview"
)

// Error codes carried in error frames.
const (
	codeInvalidRequest = "invalid_request"
	codePrecondition   = "precondition_failed"
	codeUnavailable    = "unavailable"
	codeUpstream       = "upstream_error"
	codeConfig         = "config_error"
	codeTimeout        = "timeout"
	codeInternal       = "internal_error"
)

// Read-only queries answered besides the preview actions.
const (
	TypeRanges        = "ranges"
	TypeMaxBorrowable = "max_borrowable"
	TypeUserStats     = "user_stats"
	TypeMarketStats   = "market_stats"
)

// errorCode maps the engine's error classes to frame codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, market.ErrValidation):
		return codeInvalidRequest
	case errors.Is(err, market.ErrPrecondition):
		return codePrecondition
	case errors.Is(err, market.ErrUnavailable):
		return codeUnavailable
	case errors.Is(err, market.ErrUpstream):
		return codeUpstream
	case errors.Is(err, market.ErrConfig):
		return codeConfig
	case errors.Is(err, context.DeadlineExceeded):
		return codeTimeout
	default:
		return codeInternal
	}
}

func errorFrame(id, marketID, code, message string) *Frame {
	return &Frame{
		Type:   TypeError,
		ID:     id,
		Market: marketID,
		Error:  &FrameError{Code: code, Message: message},
	}
}

// params reads typed request parameters.
type params struct {
	values map[string]string
}

func (p params) decimal(name string) (decimal.Decimal, error) {
	v, ok := p.values[name]
	if !ok || v == "" {
		return decimal.Zero, market.Validationf("%s is required", name)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, market.Validationf("%s is not a number: %q", name, v)
	}
	return d, nil
}

func (p params) optionalDecimal(name string) (decimal.Decimal, error) {
	if p.values[name] == "" {
		return decimal.Zero, nil
	}
	return p.decimal(name)
}

func (p params) integer(name string, def int) (int, error) {
	v, ok := p.values[name]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, market.Validationf("%s is not an integer: %q", name, v)
	}
	return n, nil
}

func (p params) requiredInteger(name string) (int, error) {
	if p.values[name] == "" {
		return 0, market.Validationf("%s is required", name)
	}
	return p.integer(name, 0)
}

// address returns the zero address when the parameter is absent and required is false.
func (p params) address(name string, required bool) (common.Address, error) {
	v := p.values[name]
	if v == "" {
		if required {
			return common.Address{}, market.Validationf("%s is required", name)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, market.Validationf("%s is not an address: %q", name, v)
	}
	return common.HexToAddress(v), nil
}

// resolveMarket finds the request's market by id, or by the collateral_token
// param (optionally narrowed by chain_id) when no id is given.
func (s *Server) resolveMarket(req *Frame) (market.Config, error) {
	p := params{values: req.Params}
	token, err := p.address("collateral_token", false)
	if err != nil {
		return market.Config{}, err
	}
	chainID, err := p.integer("chain_id", 0)
	if err != nil {
		return market.Config{}, err
	}
	if chainID < 0 {
		return market.Config{}, market.Validationf("chain_id must not be negative")
	}
	return s.service.Registry().Resolve(req.Market, uint64(chainID), token)
}

// handle answers one request frame.
func (s *Server) handle(sess *Session, req *Frame) *Frame {
	ctx, cancel := context.WithTimeout(sess.ctx, s.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	var result map[string]any
	m, err := s.resolveMarket(req)
	if err == nil {
		req.Market = m.ID
		result, err = s.dispatch(ctx, sess, m, req)
	}
	if err != nil {
		code := errorCode(err)
		level := sess.logger.Info
		if code == codeUpstream || code == codeInternal || code == codeTimeout {
			level = sess.logger.Error
		}
		level("Request failed",
			"type", req.Type,
			"id", req.ID,
			"market", req.Market,
			"code", code,
			"error", err)
		return errorFrame(req.ID, req.Market, code, err.Error())
	}

	sess.logger.Debug("Request answered", "type", req.Type, "id", req.ID, "elapsed", time.Since(start))
	return &Frame{Type: TypeResult, ID: req.ID, Market: req.Market, Result: result}
}

func (s *Server) dispatch(ctx context.Context, sess *Session, m market.Config, req *Frame) (map[string]any, error) {
	p := params{values: req.Params}

	switch req.Type {
	case string(preview.ActionCreateLoan), string(preview.ActionLeverageCreateLoan):
		user, err := p.address("user", false)
		if err != nil {
			return nil, err
		}
		collateral, err := p.decimal("collateral")
		if err != nil {
			return nil, err
		}
		debt, err := p.decimal("debt")
		if err != nil {
			return nil, err
		}
		n, err := p.integer("n", m.DefaultBands)
		if err != nil {
			return nil, err
		}
		var pv preview.Preview
		if req.Type == string(preview.ActionCreateLoan) {
			pv, err = s.service.CreateLoan(ctx, m.ID, user, collateral, debt, n)
		} else {
			pv, err = s.service.LeverageCreateLoan(ctx, m.ID, user, collateral, debt, n)
		}
		if err != nil {
			return nil, err
		}
		return previewResult(pv), nil

	case string(preview.ActionBorrowMore):
		user, err := p.address("user", true)
		if err != nil {
			return nil, err
		}
		collateral, err := p.optionalDecimal("collateral")
		if err != nil {
			return nil, err
		}
		debt, err := p.decimal("debt")
		if err != nil {
			return nil, err
		}
		pv, err := s.service.BorrowMore(ctx, m.ID, user, collateral, debt)
		if err != nil {
			return nil, err
		}
		return previewResult(pv), nil

	case string(preview.ActionAddCollateral), string(preview.ActionRemoveCollateral), string(preview.ActionDeleverageRepay):
		user, err := p.address("user", true)
		if err != nil {
			return nil, err
		}
		collateral, err := p.decimal("collateral")
		if err != nil {
			return nil, err
		}
		var pv preview.Preview
		switch req.Type {
		case string(preview.ActionAddCollateral):
			pv, err = s.service.AddCollateral(ctx, m.ID, user, collateral)
		case string(preview.ActionRemoveCollateral):
			pv, err = s.service.RemoveCollateral(ctx, m.ID, user, collateral)
		default:
			pv, err = s.service.DeleverageRepay(ctx, m.ID, user, collateral)
		}
		if err != nil {
			return nil, err
		}
		return previewResult(pv), nil

	case string(preview.ActionRepay):
		user, err := p.address("user", true)
		if err != nil {
			return nil, err
		}
		debt, err := p.decimal("debt")
		if err != nil {
			return nil, err
		}
		pv, err := s.service.Repay(ctx, m.ID, user, debt)
		if err != nil {
			return nil, err
		}
		return previewResult(pv), nil

	case string(preview.ActionSwap):
		i, err := p.requiredInteger("i")
		if err != nil {
			return nil, err
		}
		j, err := p.requiredInteger("j")
		if err != nil {
			return nil, err
		}
		amount, err := p.decimal("amount")
		if err != nil {
			return nil, err
		}
		sp, err := s.service.Swap(ctx, m.ID, i, j, amount)
		if err != nil {
			return nil, err
		}
		return swapResult(sp), nil

	case TypeRanges:
		collateral, err := p.decimal("collateral")
		if err != nil {
			return nil, err
		}
		debt, err := p.decimal("debt")
		if err != nil {
			return nil, err
		}
		t, err := s.service.Ranges(ctx, m.ID, collateral, debt)
		if err != nil {
			return nil, err
		}
		return rangesResult(t), nil

	case TypeMaxBorrowable:
		collateral, err := p.decimal("collateral")
		if err != nil {
			return nil, err
		}
		maxes, err := s.service.MaxBorrowable(ctx, m.ID, collateral)
		if err != nil {
			return nil, err
		}
		return maxBorrowableResult(maxes), nil

	case TypeUserStats:
		user, err := p.address("user", true)
		if err != nil {
			return nil, err
		}
		stats, err := s.service.UserStats(ctx, m.ID, user)
		if err != nil {
			return nil, err
		}
		return userStatsResult(stats), nil

	case TypeMarketStats:
		st, err := s.service.MarketStats(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		return marketStatsResult(st), nil

	case TypeSubscribeDepth:
		if s.depth == nil {
			return nil, market.Unavailablef("depth snapshots are disabled")
		}
		sess.Subscribe(m.ID)
		return map[string]any{"subscribed": m.ID}, nil

	case TypeUnsubscribeDepth:
		sess.Unsubscribe(m.ID)
		return map[string]any{"unsubscribed": m.ID}, nil

	default:
		return nil, market.Validationf("unknown request type %q", req.Type)
	}
}

// pushDepth sends one market's current snapshot to a single session.
func (s *Server) pushDepth(sess *Session, marketID string) {
	ctx, cancel := context.WithTimeout(sess.ctx, s.config.RequestTimeout)
	defer cancel()

	snap, err := s.depth.GetDepth(ctx, marketID)
	if err != nil {
		sess.logger.Warn("Failed to read depth", "market", marketID, "error", err)
		return
	}
	if err := sess.Send(depthFrame(marketID, snap)); err != nil {
		sess.logger.Warn("Failed to send depth", "market", marketID, "error", err)
	}
}
