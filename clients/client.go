package clients

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Client is the thin ledger surface the paywall components run against.
// The production implementation talks to liteservers; tests substitute
// in-memory fakes.
type Client interface {
	// Seqno reads the current sequence number of a wallet contract.
	// Uninitialized accounts report 0.
	Seqno(ctx context.Context, addr *address.Address) (uint32, error)

	// RunGetter executes a read-only get method on a contract. A TVM
	// exit code is surfaced as *ContractExecError so callers can tell
	// "record absent" from transport failure.
	RunGetter(ctx context.Context, addr *address.Address, method string, params ...any) (GetterResult, error)

	// AccountState reports whether the account is live and its balance.
	AccountState(ctx context.Context, addr *address.Address) (*AccountState, error)

	// ListTransactions fetches the most recent transactions on the
	// account, newest first.
	ListTransactions(ctx context.Context, addr *address.Address, limit uint32) ([]Transaction, error)

	Close()
}

// GetterResult is a typed view over a get-method result stack.
type GetterResult interface {
	Int(i int) (*big.Int, error)
	Slice(i int) (*cell.Slice, error)
	IsNil(i int) bool
}

// AccountState is the subset of on-chain account state the paywall
// needs. Allocated and active are different things: a computed child
// address holds no deployed code until the factory's message lands.
type AccountState struct {
	Active     bool
	Balance    tlb.Coins
	LastTxLT   uint64
	LastTxHash []byte
}

// Transaction is a normalized account transaction. In is nil for
// transactions without an inbound internal message.
type Transaction struct {
	Hash []byte
	LT   uint64
	At   time.Time
	In   *InboundTransfer
}

// InboundTransfer is an inbound internal message with attached value.
type InboundTransfer struct {
	From   *address.Address
	Amount tlb.Coins
	Body   *cell.Cell
}

// Comment parses the message body as an opcode-0 text comment. Returns
// "" when the body is empty or not a comment.
func (t *InboundTransfer) Comment() string {
	if t == nil || t.Body == nil {
		return ""
	}

	s := t.Body.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil || op != 0 {
		return ""
	}

	text, err := s.LoadStringSnake()
	if err != nil {
		return ""
	}
	return text
}

// Stack is a GetterResult backed by a plain value slice. The liteserver
// client builds one from the execution result; fakes build them
// directly from big.Ints and cell slices.
type Stack struct {
	items []any
}

func NewStack(items ...any) *Stack {
	return &Stack{items: items}
}

func (s *Stack) Len() int {
	return len(s.items)
}

func (s *Stack) Int(i int) (*big.Int, error) {
	if i >= len(s.items) {
		return nil, fmt.Errorf("stack index %d out of range (%d items)", i, len(s.items))
	}
	v, ok := s.items[i].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("stack item %d is %T, not int", i, s.items[i])
	}
	return v, nil
}

func (s *Stack) Slice(i int) (*cell.Slice, error) {
	if i >= len(s.items) {
		return nil, fmt.Errorf("stack index %d out of range (%d items)", i, len(s.items))
	}
	v, ok := s.items[i].(*cell.Slice)
	if !ok {
		return nil, fmt.Errorf("stack item %d is %T, not slice", i, s.items[i])
	}
	return v, nil
}

func (s *Stack) IsNil(i int) bool {
	return i < len(s.items) && s.items[i] == nil
}
