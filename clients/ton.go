package clients

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

var _ Client = (*TONClient)(nil)

// TONClient implements Client over a liteserver connection pool.
type TONClient struct {
	api  ton.APIClientWrapped
	pool *liteclient.ConnectionPool
}

// NewTONClient dials the liteservers listed in the global config at
// configURL and returns a ready client.
func NewTONClient(ctx context.Context, configURL string) (*TONClient, error) {
	pool := liteclient.NewConnectionPool()

	if err := pool.AddConnectionsFromConfigUrl(ctx, configURL); err != nil {
		return nil, fmt.Errorf("failed to connect to liteservers: %w", err)
	}

	api := ton.NewAPIClient(pool).WithRetry()

	return &TONClient{
		api:  api,
		pool: pool,
	}, nil
}

// NewTONClientWithAPI wraps an existing API client. The pool stays
// owned by the caller.
func NewTONClientWithAPI(api ton.APIClientWrapped) *TONClient {
	return &TONClient{api: api}
}

// API exposes the underlying tonutils client for wallet construction.
func (c *TONClient) API() ton.APIClientWrapped {
	return c.api
}

// Seqno implements Client.
func (c *TONClient) Seqno(ctx context.Context, addr *address.Address) (uint32, error) {
	res, err := c.RunGetter(ctx, addr, "seqno")
	if err != nil {
		// A wallet that has never sent a message may be uninitialized;
		// its next seqno is 0.
		if IsExitCode(err) {
			return 0, nil
		}
		return 0, err
	}

	seqno, err := res.Int(0)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", ErrGetterBadResult, err)
	}
	return uint32(seqno.Uint64()), nil
}

// RunGetter implements Client.
func (c *TONClient) RunGetter(ctx context.Context, addr *address.Address, method string, params ...any) (GetterResult, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrBlockNotReady, err)
	}

	res, err := c.api.RunGetMethod(ctx, block, addr, method, params...)
	if err != nil {
		var execErr ton.ContractExecError
		if errors.As(err, &execErr) {
			return nil, &ContractExecError{Code: execErr.Code}
		}
		return nil, fmt.Errorf("%s: %w", ErrLiteserverUnavailable, err)
	}

	return &tonStack{res: res}, nil
}

// AccountState implements Client.
func (c *TONClient) AccountState(ctx context.Context, addr *address.Address) (*AccountState, error) {
	block, err := c.api.CurrentMasterchainInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrBlockNotReady, err)
	}

	acc, err := c.api.GetAccount(ctx, block, addr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrLiteserverUnavailable, err)
	}

	state := &AccountState{
		Active:     acc.IsActive,
		LastTxLT:   acc.LastTxLT,
		LastTxHash: acc.LastTxHash,
	}
	if acc.State != nil {
		state.Active = acc.IsActive && acc.State.Status == tlb.AccountStatusActive
		state.Balance = acc.State.Balance
	}
	return state, nil
}

// ListTransactions implements Client.
func (c *TONClient) ListTransactions(ctx context.Context, addr *address.Address, limit uint32) ([]Transaction, error) {
	state, err := c.AccountState(ctx, addr)
	if err != nil {
		return nil, err
	}
	if state.LastTxLT == 0 {
		return nil, nil
	}

	list, err := c.api.ListTransactions(ctx, addr, limit, state.LastTxLT, state.LastTxHash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ErrLiteserverUnavailable, err)
	}

	txs := make([]Transaction, 0, len(list))
	for _, tx := range list {
		normalized := Transaction{
			Hash: tx.Hash,
			LT:   tx.LT,
			At:   time.Unix(int64(tx.Now), 0),
		}

		if tx.IO.In != nil && tx.IO.In.MsgType == tlb.MsgTypeInternal {
			in := tx.IO.In.AsInternal()
			normalized.In = &InboundTransfer{
				From:   in.SrcAddr,
				Amount: in.Amount,
				Body:   in.Body,
			}
		}

		txs = append(txs, normalized)
	}

	// Newest first regardless of what the liteserver returned.
	sort.Slice(txs, func(i, j int) bool { return txs[i].LT > txs[j].LT })

	return txs, nil
}

// Close implements Client.
func (c *TONClient) Close() {
	if c.pool != nil {
		c.pool.Stop()
	}
}

// tonStack adapts a tonutils execution result to GetterResult.
type tonStack struct {
	res *ton.ExecutionResult
}

func (s *tonStack) Int(i int) (*big.Int, error) {
	return s.res.Int(uint(i))
}

func (s *tonStack) Slice(i int) (*cell.Slice, error) {
	return s.res.Slice(uint(i))
}

func (s *tonStack) IsNil(i int) bool {
	ok, err := s.res.IsNil(uint(i))
	return err == nil && ok
}
