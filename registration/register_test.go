package registration

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
	"github.com/grigory9/tonpaywall/types"
)

func testAddr(b byte) *address.Address {
	data := make([]byte, 32)
	data[0] = b
	return address.NewAddress(0, 0, data)
}

func testConfig(factory *address.Address) *types.Config {
	cfg := types.DefaultConfig(types.NetworkMainnet)
	cfg.FactoryAddress = factory.String()
	cfg.AcceptanceInterval = 10 * time.Millisecond
	cfg.AcceptanceTimeout = 500 * time.Millisecond
	cfg.VisibilityInterval = 10 * time.Millisecond
	cfg.VisibilityTimeout = 300 * time.Millisecond
	return cfg
}

type storedRegistration struct {
	channelID    int64
	priceNano    *big.Int
	registeredAt int64
}

// fakeFactory simulates the network's two confirmation events:
// acceptance advances the deployer seqno, and visibility makes the
// record readable through the getter some time later.
type fakeFactory struct {
	mu sync.Mutex

	seqno           uint32
	registrations   map[string]storedRegistration // visible records
	pending         map[string]storedRegistration // accepted, not yet visible
	acceptDelay     time.Duration
	visibilityDelay time.Duration
	dropSubmissions bool

	getterCalls     int
	seqnoAtGetter   []uint32 // seqno observed at each getter call
	submittedBodies []*cell.Cell
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		registrations: make(map[string]storedRegistration),
		pending:       make(map[string]storedRegistration),
	}
}

// Submitter side.

func (f *fakeFactory) Submit(ctx context.Context, to *address.Address, amount tlb.Coins, body *cell.Cell) (uint32, error) {
	f.mu.Lock()
	seqno := f.seqno
	f.submittedBodies = append(f.submittedBodies, body)
	f.mu.Unlock()

	if f.dropSubmissions {
		return seqno, nil // broadcast "succeeds" but nothing lands
	}

	s := body.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil || op != OpRegisterDeployment {
		return seqno, nil
	}
	wallet, _ := s.LoadAddr()
	channelID, _ := s.LoadInt(64)
	priceNano, _ := s.LoadBigCoins()

	reg := storedRegistration{
		channelID:    channelID,
		priceNano:    priceNano,
		registeredAt: time.Now().Unix(),
	}

	go func() {
		time.Sleep(f.acceptDelay)
		f.mu.Lock()
		f.seqno++
		if _, visible := f.registrations[wallet.String()]; visible {
			// Overwrite of a live record: the updated state replaces
			// the old one as soon as the message is processed.
			f.registrations[wallet.String()] = reg
			f.mu.Unlock()
			return
		}
		f.pending[wallet.String()] = reg
		f.mu.Unlock()

		time.Sleep(f.visibilityDelay)
		f.mu.Lock()
		f.registrations[wallet.String()] = reg
		delete(f.pending, wallet.String())
		f.mu.Unlock()
	}()

	return seqno, nil
}

func (f *fakeFactory) Seqno(ctx context.Context) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seqno, nil
}

func (f *fakeFactory) Address() *address.Address {
	return testAddr(0xDD)
}

// clients.Client side.

func (f *fakeFactory) RunGetter(ctx context.Context, addr *address.Address, method string, params ...any) (clients.GetterResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.getterCalls++
	f.seqnoAtGetter = append(f.seqnoAtGetter, f.seqno)

	slice := params[0].(*cell.Slice)
	wallet, err := slice.LoadAddr()
	if err != nil {
		return nil, err
	}

	reg, ok := f.registrations[wallet.String()]
	if !ok {
		return nil, &clients.ContractExecError{Code: 309}
	}

	return clients.NewStack(
		big.NewInt(reg.channelID),
		reg.priceNano,
		big.NewInt(reg.registeredAt),
	), nil
}

func (f *fakeFactory) ChainSeqno(context.Context, *address.Address) (uint32, error) {
	panic("not used")
}
func (f *fakeFactory) AccountState(context.Context, *address.Address) (*clients.AccountState, error) {
	panic("not used")
}
func (f *fakeFactory) ListTransactions(context.Context, *address.Address, uint32) ([]clients.Transaction, error) {
	panic("not used")
}
func (f *fakeFactory) Close() {}

func newTestCoordinator(t *testing.T, f *fakeFactory) *Coordinator {
	t.Helper()
	cfg := testConfig(testAddr(0xFA))
	c, err := NewCoordinator(cfg, chainClient{f}, f, logger.NoopLogger{}, metrics.NoopRecorder{})
	require.NoError(t, err)
	return c
}

// chainClient adapts fakeFactory to clients.Client (Seqno name clash
// with the Submitter side).
type chainClient struct {
	f *fakeFactory
}

func (c chainClient) Seqno(ctx context.Context, addr *address.Address) (uint32, error) {
	return c.f.ChainSeqno(ctx, addr)
}
func (c chainClient) RunGetter(ctx context.Context, addr *address.Address, method string, params ...any) (clients.GetterResult, error) {
	return c.f.RunGetter(ctx, addr, method, params...)
}
func (c chainClient) AccountState(ctx context.Context, addr *address.Address) (*clients.AccountState, error) {
	return c.f.AccountState(ctx, addr)
}
func (c chainClient) ListTransactions(ctx context.Context, addr *address.Address, limit uint32) ([]clients.Transaction, error) {
	return c.f.ListTransactions(ctx, addr, limit)
}
func (c chainClient) Close() {}

func TestRegisterDeployment_HappyPath(t *testing.T) {
	f := newFakeFactory()
	f.acceptDelay = 30 * time.Millisecond
	f.visibilityDelay = 50 * time.Millisecond
	c := newTestCoordinator(t, f)

	user := testAddr(0x01)
	price := tlb.MustFromTON("10")

	reg, err := c.RegisterDeployment(context.Background(), 42, user, price)
	require.NoError(t, err)

	assert.Equal(t, int64(42), reg.ChannelID)
	assert.Equal(t, price.Nano(), reg.Price.Nano())
	assert.Equal(t, user.Data(), reg.UserWallet.Data())
	assert.WithinDuration(t, time.Now(), reg.RegisteredAt, 5*time.Second)
}

func TestRegisterDeployment_Phase2NeverPrecedesPhase1(t *testing.T) {
	f := newFakeFactory()
	f.acceptDelay = 40 * time.Millisecond
	f.visibilityDelay = 40 * time.Millisecond
	c := newTestCoordinator(t, f)

	_, err := c.RegisterDeployment(context.Background(), 7, testAddr(0x02), tlb.MustFromTON("1"))
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.seqnoAtGetter)
	for _, seqno := range f.seqnoAtGetter {
		assert.Greater(t, seqno, uint32(0),
			"registration getter was polled before the seqno advanced")
	}
}

func TestRegisterDeployment_AcceptanceTimeout(t *testing.T) {
	f := newFakeFactory()
	f.dropSubmissions = true
	c := newTestCoordinator(t, f)

	_, err := c.RegisterDeployment(context.Background(), 1, testAddr(0x03), tlb.MustFromTON("1"))
	require.ErrorIs(t, err, types.ErrAcceptanceTimeout)

	assert.Zero(t, f.getterCalls, "visibility poll must not start after acceptance failure")
}

func TestRegisterDeployment_VisibilityTimeoutAtBound(t *testing.T) {
	f := newFakeFactory()
	f.acceptDelay = 5 * time.Millisecond
	f.visibilityDelay = time.Hour // accepted, never visible
	c := newTestCoordinator(t, f)

	started := time.Now()
	_, err := c.RegisterDeployment(context.Background(), 1, testAddr(0x04), tlb.MustFromTON("1"))
	elapsed := time.Since(started)

	require.ErrorIs(t, err, types.ErrVisibilityTimeout)

	// Acceptance completes within ~2 poll ticks, so the overall time is
	// dominated by the visibility bound.
	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 600*time.Millisecond,
		"visibility poll must give up at the configured bound")
}

func TestRegisterDeployment_ReregisterOverwrites(t *testing.T) {
	f := newFakeFactory()
	f.acceptDelay = 5 * time.Millisecond
	f.visibilityDelay = 5 * time.Millisecond
	c := newTestCoordinator(t, f)

	user := testAddr(0x05)

	_, err := c.RegisterDeployment(context.Background(), 42, user, tlb.MustFromTON("10"))
	require.NoError(t, err)

	reg, err := c.RegisterDeployment(context.Background(), 42, user, tlb.MustFromTON("12"))
	require.NoError(t, err)

	assert.Equal(t, tlb.MustFromTON("12").Nano(), reg.Price.Nano())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.registrations, 1, "one live registration per wallet")
	assert.Equal(t, tlb.MustFromTON("12").Nano(), f.registrations[user.String()].priceNano)
}

// captureLogger records log fields for assertions.
type captureLogger struct {
	mu     sync.Mutex
	fields []map[string]any
}

func (l *captureLogger) record(fields map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fields = append(l.fields, fields)
}

func (l *captureLogger) Debug(_ string, fields map[string]any) { l.record(fields) }
func (l *captureLogger) Info(_ string, fields map[string]any)  { l.record(fields) }
func (l *captureLogger) Warn(_ string, fields map[string]any)  { l.record(fields) }
func (l *captureLogger) Error(_ string, fields map[string]any) { l.record(fields) }

func TestRegisterDeployment_LogsDeployerIdentity(t *testing.T) {
	f := newFakeFactory()
	f.acceptDelay = 5 * time.Millisecond
	f.visibilityDelay = 5 * time.Millisecond

	log := &captureLogger{}
	c, err := NewCoordinator(testConfig(testAddr(0xFA)), chainClient{f}, f, log, metrics.NoopRecorder{})
	require.NoError(t, err)

	_, err = c.RegisterDeployment(context.Background(), 1, testAddr(0x08), tlb.MustFromTON("1"))
	require.NoError(t, err)

	log.mu.Lock()
	defer log.mu.Unlock()
	var deployers []any
	for _, fields := range log.fields {
		if d, ok := fields["deployer"]; ok {
			deployers = append(deployers, d)
		}
	}
	require.NotEmpty(t, deployers, "submission log must carry the signing identity")
	assert.Contains(t, deployers, f.Address().String())
}

func TestGetRegisteredDeployment_AbsentIsNotAnError(t *testing.T) {
	f := newFakeFactory()
	c := newTestCoordinator(t, f)

	reg, err := c.GetRegisteredDeployment(context.Background(), testAddr(0x06))
	require.NoError(t, err)
	assert.Nil(t, reg)
}

func TestBuildRegistrationBody_RoundTrip(t *testing.T) {
	user := testAddr(0x07)
	body := BuildRegistrationBody(user, 99, tlb.MustFromTON("3.5"))

	s := body.BeginParse()
	op, err := s.LoadUInt(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(OpRegisterDeployment), op)

	addr, err := s.LoadAddr()
	require.NoError(t, err)
	assert.Equal(t, user.Data(), addr.Data())

	channelID, err := s.LoadInt(64)
	require.NoError(t, err)
	assert.Equal(t, int64(99), channelID)

	price, err := s.LoadBigCoins()
	require.NoError(t, err)
	assert.Equal(t, tlb.MustFromTON("3.5").Nano(), price)
}
