// Package registration implements the deployer-side registration of
// deployment parameters on the factory contract, including the
// two-phase confirmation that separates network acceptance from state
// visibility.
package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
	"github.com/grigory9/tonpaywall/types"
	"github.com/grigory9/tonpaywall/utils"
)

// OpRegisterDeployment is the fixed 32-bit opcode of the factory's
// RegisterDeployment message. Only the registered deployer or owner
// identity is authorized to send it; the contract enforces the role.
const OpRegisterDeployment = 0x52656744

// methodGetRegistration is the factory getter polled during Phase 2.
// It throws a TVM exit code when no registration exists for the wallet.
const methodGetRegistration = "get_registered_deployment"

// Submitter is the wallet-signer surface the coordinator drives.
type Submitter interface {
	Submit(ctx context.Context, to *address.Address, amount tlb.Coins, body *cell.Cell) (uint32, error)
	Seqno(ctx context.Context) (uint32, error)
	Address() *address.Address
}

// Coordinator registers deployment parameters on the factory and
// confirms them in two phases before the dependent user transaction is
// allowed to happen.
type Coordinator struct {
	signer  Submitter
	chain   clients.Client
	factory *address.Address
	cfg     *types.Config
	gas     tlb.Coins
	log     logger.Logger
	rec     metrics.Recorder
}

func NewCoordinator(cfg *types.Config, chain clients.Client, signer Submitter, log logger.Logger, rec metrics.Recorder) (*Coordinator, error) {
	factory, err := utils.ValidateAddressForNetwork(cfg.FactoryAddress, cfg.Network)
	if err != nil {
		return nil, err
	}

	gas, err := types.AmountFromTON(cfg.RegistrationGas)
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		signer:  signer,
		chain:   chain,
		factory: factory,
		cfg:     cfg,
		gas:     gas,
		log:     log,
		rec:     rec,
	}, nil
}

// BuildRegistrationBody encodes the RegisterDeployment message body.
func BuildRegistrationBody(userWallet *address.Address, channelID int64, price tlb.Coins) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(OpRegisterDeployment, 32).
		MustStoreAddr(userWallet).
		MustStoreInt(channelID, 64).
		MustStoreBigCoins(price.Nano()).
		EndCell()
}

// RegisterDeployment submits RegisterDeployment{userWallet, channelID,
// price} and runs the two-phase confirmation:
//
// Phase 1 waits for the deployer wallet seqno to advance past its
// pre-submission value, which means the network accepted the message
// into a block. Phase 2 polls the factory getter until the record is
// readable. Acceptance does not imply visibility: the receiving
// contract's state lags the block by a load-dependent amount, and a
// user deploy transaction sent before Phase 2 completes is rejected as
// "not registered" even though the registration succeeded.
//
// Re-registering the same wallet before expiry overwrites the previous
// record; the factory keys registrations by wallet identity.
func (c *Coordinator) RegisterDeployment(ctx context.Context, channelID int64, userWallet *address.Address, price tlb.Coins) (*types.DeploymentRegistration, error) {
	body := BuildRegistrationBody(userWallet, channelID, price)

	started := time.Now()

	seqno, err := c.signer.Submit(ctx, c.factory, c.gas, body)
	if err != nil {
		return nil, err
	}

	c.rec.IncCounter(metrics.EventRegistrationSubmitted, c.labels())
	c.log.Info("registration submitted", map[string]any{
		"channel_id": channelID,
		"deployer":   c.signer.Address().String(),
		"wallet":     userWallet.String(),
		"price":      price.String(),
		"seqno":      seqno,
	})

	if err := c.waitAcceptance(ctx, seqno); err != nil {
		return nil, err
	}

	c.rec.IncCounter(metrics.EventRegistrationAccepted, c.labels())
	c.log.Debug("registration accepted", map[string]any{
		"channel_id": channelID,
		"elapsed":    time.Since(started).String(),
	})

	reg, err := c.waitVisibility(ctx, userWallet)
	if err != nil {
		return nil, err
	}

	c.rec.IncCounter(metrics.EventRegistrationVisible, c.labels())
	c.rec.ObserveLatency("register_deployment", time.Since(started), c.labels())
	c.log.Info("registration visible", map[string]any{
		"channel_id": reg.ChannelID,
		"wallet":     reg.UserWallet.String(),
		"elapsed":    time.Since(started).String(),
	})

	return reg, nil
}

// waitAcceptance is Phase 1: poll the wallet seqno until it exceeds
// the pre-submission value. Read errors are transient liteserver
// conditions and do not abort the poll; only the bound does.
func (c *Coordinator) waitAcceptance(ctx context.Context, submitted uint32) error {
	err := utils.Poll(ctx, c.cfg.AcceptanceInterval, c.cfg.AcceptanceTimeout, func(ctx context.Context) (bool, error) {
		current, err := c.signer.Seqno(ctx)
		if err != nil {
			c.log.Warn("seqno read failed, retrying", map[string]any{"error": err.Error()})
			return false, nil
		}
		return current > submitted, nil
	})
	if errors.Is(err, utils.ErrPollTimeout) {
		c.rec.IncCounter(metrics.EventRegistrationTimeout, c.labels())
		return fmt.Errorf("%w: seqno stuck at %d after %s",
			types.ErrAcceptanceTimeout, submitted, c.cfg.AcceptanceTimeout)
	}
	return err
}

// waitVisibility is Phase 2: poll the factory getter until it returns
// the registration. A getter exit code means the record is not yet in
// the contract's readable state; only transport-independent timeout
// fails the phase.
func (c *Coordinator) waitVisibility(ctx context.Context, userWallet *address.Address) (*types.DeploymentRegistration, error) {
	var reg *types.DeploymentRegistration

	err := utils.Poll(ctx, c.cfg.VisibilityInterval, c.cfg.VisibilityTimeout, func(ctx context.Context) (bool, error) {
		r, err := c.GetRegisteredDeployment(ctx, userWallet)
		if err != nil {
			c.log.Warn("registration getter failed, retrying", map[string]any{"error": err.Error()})
			return false, nil
		}
		if r == nil {
			return false, nil
		}
		reg = r
		return true, nil
	})
	if errors.Is(err, utils.ErrPollTimeout) {
		c.rec.IncCounter(metrics.EventRegistrationTimeout, c.labels())
		return nil, fmt.Errorf("%w: after %s", types.ErrVisibilityTimeout, c.cfg.VisibilityTimeout)
	}
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// GetRegisteredDeployment reads the factory's registration record for
// a wallet. Returns (nil, nil) when no live registration exists.
func (c *Coordinator) GetRegisteredDeployment(ctx context.Context, userWallet *address.Address) (*types.DeploymentRegistration, error) {
	param := cell.BeginCell().MustStoreAddr(userWallet).EndCell().BeginParse()

	res, err := c.chain.RunGetter(ctx, c.factory, methodGetRegistration, param)
	if err != nil {
		if clients.IsExitCode(err) {
			return nil, nil
		}
		return nil, err
	}

	channelID, err := res.Int(0)
	if err != nil {
		return nil, fmt.Errorf("registration getter returned unexpected stack: %w", err)
	}
	priceNano, err := res.Int(1)
	if err != nil {
		return nil, fmt.Errorf("registration getter returned unexpected stack: %w", err)
	}
	registeredAt, err := res.Int(2)
	if err != nil {
		return nil, fmt.Errorf("registration getter returned unexpected stack: %w", err)
	}

	return &types.DeploymentRegistration{
		UserWallet:   userWallet,
		ChannelID:    channelID.Int64(),
		Price:        tlb.FromNanoTON(priceNano),
		RegisteredAt: time.Unix(registeredAt.Int64(), 0),
	}, nil
}

func (c *Coordinator) labels() map[string]string {
	return map[string]string{"network": c.cfg.Network.String()}
}
