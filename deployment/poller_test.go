package deployment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
	"github.com/grigory9/tonpaywall/types"
)

// deployChain simulates the factory during a deployment: the child
// address appears after addressAfter getter calls, and the account
// reports active after activeAfter state reads.
type deployChain struct {
	mu sync.Mutex

	child        *address.Address
	addressAfter int
	activeAfter  int

	getterCalls int
	stateCalls  int
}

func (c *deployChain) RunGetter(ctx context.Context, addr *address.Address, method string, params ...any) (clients.GetterResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getterCalls++
	if c.getterCalls <= c.addressAfter {
		return clients.NewStack(nil), nil // getter succeeds, address still null
	}

	slice := cell.BeginCell().MustStoreAddr(c.child).EndCell().BeginParse()
	return clients.NewStack(slice), nil
}

func (c *deployChain) AccountState(ctx context.Context, addr *address.Address) (*clients.AccountState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stateCalls++
	return &clients.AccountState{Active: c.stateCalls > c.activeAfter}, nil
}

func (c *deployChain) Seqno(context.Context, *address.Address) (uint32, error) {
	panic("not used")
}
func (c *deployChain) ListTransactions(context.Context, *address.Address, uint32) ([]clients.Transaction, error) {
	panic("not used")
}
func (c *deployChain) Close() {}

func pollerConfig() *types.Config {
	return pollerConfigFor(types.NetworkMainnet)
}

func pollerConfigFor(network types.Network) *types.Config {
	cfg := types.DefaultConfig(network)
	cfg.FactoryAddress = testAddr(0xFA).Bounce(true).Testnet(network.IsTestnet()).String()
	cfg.DeployInterval = 10 * time.Millisecond
	cfg.DeployTimeout = 300 * time.Millisecond
	return cfg
}

func newTestPoller(t *testing.T, chain clients.Client) *Poller {
	t.Helper()
	p, err := NewPoller(pollerConfig(), chain, logger.NoopLogger{}, metrics.NoopRecorder{})
	require.NoError(t, err)
	return p
}

func TestWaitForDeployment_ActiveAfterPolling(t *testing.T) {
	child := testAddr(0xC1)
	chain := &deployChain{child: child, addressAfter: 3, activeAfter: 2}
	p := newTestPoller(t, chain)

	outcome, err := p.WaitForDeployment(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, types.StateActive, outcome.State)
	assert.Equal(t, int64(42), outcome.ChannelID)
	require.NotNil(t, outcome.ContractAddress)
	assert.Equal(t, child.Data(), outcome.ContractAddress.Data())
}

func TestWaitForDeployment_TimeoutIsUnknownNotError(t *testing.T) {
	chain := &deployChain{child: testAddr(0xC1), addressAfter: 1 << 30}
	p := newTestPoller(t, chain)

	started := time.Now()
	outcome, err := p.WaitForDeployment(context.Background(), 7)
	elapsed := time.Since(started)

	require.NoError(t, err)
	assert.Equal(t, types.StateUnknown, outcome.State)
	assert.Nil(t, outcome.ContractAddress)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestWaitForDeployment_AllocatedButInactiveKeepsPolling(t *testing.T) {
	// Address known immediately, account never activates: computed is
	// not deployed, so the outcome must be Unknown.
	chain := &deployChain{child: testAddr(0xC1), addressAfter: 0, activeAfter: 1 << 30}
	p := newTestPoller(t, chain)

	outcome, err := p.WaitForDeployment(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, types.StateUnknown, outcome.State)
	assert.NotNil(t, outcome.ContractAddress, "address was observed before the bound")
	assert.Greater(t, chain.stateCalls, 1, "state must be re-read, not checked once")
}

func TestWaitForDeployment_AddressFlagsFollowNetwork(t *testing.T) {
	// The getter wire form carries no flag bits; the reported address
	// must still encode for the active network so it can be fed back
	// into network-validated entry points.
	for _, tc := range []struct {
		network types.Network
		testnet bool
	}{
		{types.NetworkMainnet, false},
		{types.NetworkTestnet, true},
	} {
		t.Run(tc.network.String(), func(t *testing.T) {
			chain := &deployChain{child: testAddr(0xC1), addressAfter: 0, activeAfter: 0}
			p, err := NewPoller(pollerConfigFor(tc.network), chain, logger.NoopLogger{}, metrics.NoopRecorder{})
			require.NoError(t, err)

			outcome, err := p.WaitForDeployment(context.Background(), 42)
			require.NoError(t, err)
			require.NotNil(t, outcome.ContractAddress)
			assert.Equal(t, tc.testnet, outcome.ContractAddress.IsTestnetOnly())
			assert.True(t, outcome.ContractAddress.IsBounceable())
		})
	}
}

func TestWaitForDeployment_GetterExitCodeIsRetried(t *testing.T) {
	chain := &exitCodeThenAddress{child: testAddr(0xC2), failures: 2}
	p := newTestPoller(t, chain)

	outcome, err := p.WaitForDeployment(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, outcome.State)
}

func TestWaitForDeployment_CallerCancellation(t *testing.T) {
	chain := &deployChain{child: testAddr(0xC1), addressAfter: 1 << 30}
	p := newTestPoller(t, chain)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := p.WaitForDeployment(ctx, 7)
	require.ErrorIs(t, err, context.Canceled)
}

func TestChildAddress_NullStackItem(t *testing.T) {
	chain := &deployChain{addressAfter: 1 << 30}
	p := newTestPoller(t, chain)

	addr, err := p.ChildAddress(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, addr)
}

// exitCodeThenAddress throws a TVM exit code for the first N getter
// calls, then returns the child address of an active account.
type exitCodeThenAddress struct {
	mu       sync.Mutex
	child    *address.Address
	failures int
	calls    int
}

func (c *exitCodeThenAddress) RunGetter(ctx context.Context, addr *address.Address, method string, params ...any) (clients.GetterResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if c.calls <= c.failures {
		return nil, &clients.ContractExecError{Code: 404}
	}
	slice := cell.BeginCell().MustStoreAddr(c.child).EndCell().BeginParse()
	return clients.NewStack(slice), nil
}

func (c *exitCodeThenAddress) AccountState(ctx context.Context, addr *address.Address) (*clients.AccountState, error) {
	return &clients.AccountState{Active: true}, nil
}

func (c *exitCodeThenAddress) Seqno(context.Context, *address.Address) (uint32, error) {
	panic("not used")
}
func (c *exitCodeThenAddress) ListTransactions(context.Context, *address.Address, uint32) ([]clients.Transaction, error) {
	panic("not used")
}
func (c *exitCodeThenAddress) Close() {}
