// Package verification scans a contract's transaction history for
// inbound purchase payments matching an expected amount.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
	"github.com/grigory9/tonpaywall/types"
	"github.com/grigory9/tonpaywall/utils"
)

// tolerance absorbs gas-estimation drift in client-side amount
// calculation. Wallets deduct fees differently; exact-match would
// reject legitimate payments.
var tolerance = decimal.RequireFromString("0.99")

// Verifier checks a channel contract for qualifying inbound payments.
type Verifier struct {
	chain   clients.Client
	network types.Network
	comment string
	limit   uint32
	log     logger.Logger
	rec     metrics.Recorder
}

func NewVerifier(cfg *types.Config, chain clients.Client, log logger.Logger, rec metrics.Recorder) *Verifier {
	return &Verifier{
		chain:   chain,
		network: cfg.Network,
		comment: cfg.PurchaseComment,
		limit:   cfg.HistoryLimit,
		log:     log,
		rec:     rec,
	}
}

// VerifyPayment scans recent inbound transactions to contractAddr for
// a purchase-comment message worth at least 99% of expected. The
// optional since bound skips transactions older than the purchase
// attempt being checked.
//
// Found=false with a nil error means no matching payment exists yet;
// the caller re-invokes on its own schedule. ErrUnderpaidRejected is
// returned only when a comment-matching transfer exists below the
// tolerance floor and no qualifying match does; that attempt is
// terminal and the user must resend.
func (v *Verifier) VerifyPayment(ctx context.Context, contractAddr *address.Address, expected tlb.Coins, since *time.Time) (*types.PaymentMatch, error) {
	txs, err := v.chain.ListTransactions(ctx, contractAddr, v.limit)
	if err != nil {
		return nil, &types.GateError{
			Code:    types.ErrCodeNetworkError,
			Message: fmt.Sprintf("failed to fetch transaction history: %v", err),
		}
	}

	expectedDec := types.AmountDecimal(expected)
	floor := expectedDec.Mul(tolerance)

	var underpaid *clients.InboundTransfer

	for i := range txs {
		tx := &txs[i]
		if tx.In == nil || tx.In.From == nil {
			continue
		}
		if since != nil && tx.At.Before(*since) {
			continue
		}
		if tx.In.Comment() != v.comment {
			continue
		}

		amount := types.AmountDecimal(tx.In.Amount)
		if amount.LessThan(floor) {
			if underpaid == nil {
				underpaid = tx.In
			}
			continue
		}

		match := &types.PaymentMatch{
			Found:       true,
			TxHash:      tx.Hash,
			FromAddress: tx.In.From.Testnet(v.network.IsTestnet()),
			Amount:      tx.In.Amount,
			Timestamp:   tx.At,
			Overpaid:    amount.GreaterThan(expectedDec),
		}

		v.rec.IncCounter(metrics.EventPaymentMatched, v.labels())
		v.log.Info("payment matched", map[string]any{
			"contract": utils.EncodeForNetwork(contractAddr, v.network, true),
			"from":     match.FromAddress.String(),
			"amount":   match.Amount.String(),
			"overpaid": match.Overpaid,
		})

		return match, nil
	}

	if underpaid != nil {
		v.rec.IncCounter(metrics.EventPaymentUnderpaid, v.labels())
		return &types.PaymentMatch{Found: false}, fmt.Errorf("%w: got %s, expected at least %s",
			types.ErrUnderpaidRejected, underpaid.Amount.String(), tlb.FromNanoTON(floor.BigInt()).String())
	}

	return &types.PaymentMatch{Found: false}, nil
}

func (v *Verifier) labels() map[string]string {
	return map[string]string{"network": v.network.String()}
}
