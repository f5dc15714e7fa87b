// Package wallet holds the deployer identity: one keypair, one
// monotonic seqno, all submissions serialized.
package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	tonwallet "github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/types"
)

// Broadcaster is the part of a tonutils wallet the signer needs.
// Satisfied by *wallet.Wallet; tests substitute fakes.
type Broadcaster interface {
	Send(ctx context.Context, message *tonwallet.Message, waitConfirmation ...bool) error
}

// Signer submits messages from the deployer wallet. Calls are
// serialized per signer: two concurrent submissions from the same
// address would race on the seqno and one would be rejected by the
// network, so the mutex is not optional.
type Signer struct {
	mu sync.Mutex

	chain clients.Client
	w     Broadcaster
	addr  *address.Address
}

// NewSigner wraps an already constructed tonutils wallet.
func NewSigner(chain clients.Client, w *tonwallet.Wallet) *Signer {
	return NewCustomSigner(chain, w, w.WalletAddress())
}

// NewCustomSigner builds a signer over any Broadcaster. The address
// must be the one the broadcaster signs for.
func NewCustomSigner(chain clients.Client, w Broadcaster, addr *address.Address) *Signer {
	return &Signer{
		chain: chain,
		w:     w,
		addr:  addr,
	}
}

// FromSeed derives the deployer wallet (V4R2) from its seed phrase.
func FromSeed(chain *clients.TONClient, seed []string) (*Signer, error) {
	w, err := tonwallet.FromSeed(chain.API(), seed, tonwallet.V4R2)
	if err != nil {
		return nil, fmt.Errorf("failed to derive deployer wallet: %w", err)
	}
	return NewSigner(chain, w), nil
}

// Address returns the deployer wallet address.
func (s *Signer) Address() *address.Address {
	return s.addr
}

// Seqno reads the wallet's current on-chain seqno.
func (s *Signer) Seqno(ctx context.Context) (uint32, error) {
	return s.chain.Seqno(ctx, s.addr)
}

// Submit signs and broadcasts a transfer carrying body and value to
// the destination, returning the seqno observed before submission.
// The caller waits for the on-chain seqno to exceed that value to
// learn the transaction was accepted.
//
// Broadcast failures surface immediately and are never retried here:
// a retry against a stale seqno is indistinguishable from a double
// submission.
func (s *Signer) Submit(ctx context.Context, to *address.Address, amount tlb.Coins, body *cell.Cell) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seqno, err := s.chain.Seqno(ctx, s.addr)
	if err != nil {
		return 0, fmt.Errorf("failed to read wallet seqno: %w", err)
	}

	msg := tonwallet.SimpleMessage(to, amount, body)

	if err := s.w.Send(ctx, msg, false); err != nil {
		return 0, &types.GateError{
			Code:    types.ErrCodeBroadcastFailed,
			Message: fmt.Sprintf("broadcast failed: %v", err),
		}
	}

	return seqno, nil
}
