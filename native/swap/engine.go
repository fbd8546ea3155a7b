package swap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"swapnet/observability"
)

// Engine applies allocation plans to the ledger and exposes the swap request
// surface composing match and commit.
type Engine struct {
	ledger  Ledger
	matcher *Matcher
	clock   func() time.Time
	metrics *observability.SwapMetrics
	tracer  trace.Tracer
}

// NewEngine constructs a settlement engine over the ledger and matcher.
func NewEngine(ledger Ledger, matcher *Matcher) *Engine {
	return &Engine{
		ledger:  ledger,
		matcher: matcher,
		clock:   time.Now,
		metrics: observability.Swap(),
		tracer:  otel.Tracer("native/swap"),
	}
}

// SetClock overrides the time source, primarily for deterministic testing.
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// Commit settles an allocation plan as one atomic write set. Per fill, the
// provider's in vault gains the input amount, the provider's out vault loses
// the output amount, and the requester's external holdings move by the plan
// totals. The write carries the versions observed at match time; any
// concurrent mutation of a targeted vault aborts the whole plan with
// ErrConcurrentModification and nothing is applied.
func (e *Engine) Commit(ctx context.Context, plan *AllocationPlan) (*Receipt, error) {
	start := e.clock()
	ctx, span := e.tracer.Start(ctx, "swap.commit",
		trace.WithAttributes(
			attribute.String("asset.in", plan.AssetIn),
			attribute.String("asset.out", plan.AssetOut),
		))
	defer span.End()
	receipt, err := e.commit(plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.Observe("commit", e.clock().Sub(start), err)
		return nil, err
	}
	span.SetAttributes(attribute.String("receipt.id", receipt.ID))
	span.SetStatus(codes.Ok, "plan committed")
	e.metrics.Observe("commit", e.clock().Sub(start), nil)
	return receipt, nil
}

func (e *Engine) commit(plan *AllocationPlan) (*Receipt, error) {
	if e == nil || e.ledger == nil {
		return nil, fmt.Errorf("engine not initialised")
	}
	if plan == nil || len(plan.Fills) == 0 {
		return nil, ErrInsufficientLiquidity
	}
	if plan.TotalOut < plan.MinAmountOut {
		return nil, ErrSlippageExceeded
	}
	now := e.clock()
	writes := make([]AccountWrite, 0, 2*len(plan.Fills)+2)
	for _, fill := range plan.Fills {
		inVault, inVersion, ok, err := loadVault(e.ledger, fill.Owner, plan.AssetIn)
		if err != nil {
			return nil, err
		}
		if !ok || inVersion != plan.versions[string(vaultKey(fill.Owner, plan.AssetIn))] {
			return nil, ErrConcurrentModification
		}
		outVault, outVersion, ok, err := loadVault(e.ledger, fill.Owner, plan.AssetOut)
		if err != nil {
			return nil, err
		}
		if !ok || outVersion != plan.versions[string(vaultKey(fill.Owner, plan.AssetOut))] {
			return nil, ErrConcurrentModification
		}
		if outVault.Amount < fill.AmountOut {
			return nil, ErrConcurrentModification
		}
		inVault.Amount += fill.AmountIn
		inVault.LastUpdate = now.Unix()
		outVault.Amount -= fill.AmountOut
		outVault.LastUpdate = now.Unix()
		inData, err := encodeVault(inVault)
		if err != nil {
			return nil, err
		}
		outData, err := encodeVault(outVault)
		if err != nil {
			return nil, err
		}
		writes = append(writes,
			AccountWrite{ID: vaultKey(fill.Owner, plan.AssetIn), Data: inData, ExpectedVersion: inVersion},
			AccountWrite{ID: vaultKey(fill.Owner, plan.AssetOut), Data: outData, ExpectedVersion: outVersion},
		)
	}

	balanceIn, versionIn, err := loadHolding(e.ledger, plan.Requester, plan.AssetIn)
	if err != nil {
		return nil, err
	}
	if balanceIn < plan.AmountIn {
		return nil, ErrInsufficientBalance
	}
	balanceOut, versionOut, err := loadHolding(e.ledger, plan.Requester, plan.AssetOut)
	if err != nil {
		return nil, err
	}
	holdingIn, err := encodeHolding(balanceIn - plan.AmountIn)
	if err != nil {
		return nil, err
	}
	holdingOut, err := encodeHolding(balanceOut + plan.TotalOut)
	if err != nil {
		return nil, err
	}
	writes = append(writes,
		AccountWrite{ID: holdingKey(plan.Requester, plan.AssetIn), Data: holdingIn, ExpectedVersion: versionIn},
		AccountWrite{ID: holdingKey(plan.Requester, plan.AssetOut), Data: holdingOut, ExpectedVersion: versionOut},
	)

	if err := e.ledger.WriteAccountsAtomic(writes); err != nil {
		if errors.Is(err, ErrStaleState) {
			return nil, ErrConcurrentModification
		}
		return nil, err
	}
	return &Receipt{
		ID:          uuid.NewString(),
		Requester:   plan.Requester,
		AssetIn:     plan.AssetIn,
		AssetOut:    plan.AssetOut,
		AmountIn:    plan.AmountIn,
		AmountOut:   plan.TotalOut,
		Fills:       append([]Fill{}, plan.Fills...),
		CommittedAt: now.UTC(),
	}, nil
}

// RequestSwap matches and settles an order in one call. This is the only
// externally invoked swap operation; a failed commit leaves no partial
// state and the caller may recompute and resubmit on
// ErrConcurrentModification.
func (e *Engine) RequestSwap(ctx context.Context, requester, assetIn, assetOut string, amountIn, minAmountOut uint64) (*Receipt, error) {
	if e == nil || e.matcher == nil {
		return nil, fmt.Errorf("engine not initialised")
	}
	start := e.clock()
	ctx, span := e.tracer.Start(ctx, "swap.request",
		trace.WithAttributes(
			attribute.String("asset.in", normaliseSymbol(assetIn)),
			attribute.String("asset.out", normaliseSymbol(assetOut)),
		))
	defer span.End()
	plan, err := e.matcher.Match(ctx, requester, assetIn, assetOut, amountIn, minAmountOut)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.Observe("request", e.clock().Sub(start), err)
		return nil, err
	}
	receipt, err := e.commit(plan)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.Observe("request", e.clock().Sub(start), err)
		return nil, err
	}
	span.SetAttributes(attribute.String("receipt.id", receipt.ID))
	span.SetStatus(codes.Ok, "swap settled")
	e.metrics.Observe("request", e.clock().Sub(start), nil)
	return receipt, nil
}
