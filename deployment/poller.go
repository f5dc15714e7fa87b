package deployment

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/xssnick/tonutils-go/address"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
	"github.com/grigory9/tonpaywall/types"
	"github.com/grigory9/tonpaywall/utils"
)

// methodGetChildAddress is the factory getter that returns the child
// contract address for a channel, or null while not yet deployed.
const methodGetChildAddress = "get_channel_contract"

// Poller watches the factory for the child contract of a channel
// after the user's trigger transaction was sent. The trigger is
// fire-and-forget from the backend's perspective; this is the only
// way to learn it worked.
type Poller struct {
	chain   clients.Client
	factory *address.Address
	cfg     *types.Config
	log     logger.Logger
	rec     metrics.Recorder
}

func NewPoller(cfg *types.Config, chain clients.Client, log logger.Logger, rec metrics.Recorder) (*Poller, error) {
	factory, err := utils.ValidateAddressForNetwork(cfg.FactoryAddress, cfg.Network)
	if err != nil {
		return nil, err
	}

	return &Poller{
		chain:   chain,
		factory: factory,
		cfg:     cfg,
		log:     log,
		rec:     rec,
	}, nil
}

// WaitForDeployment polls the factory getter until the child address
// appears, then separately confirms the account state is active: a
// computed address is not a deployed contract. On timeout the outcome
// state is Unknown, not Failed, and the error is nil: the deployment
// may still complete and the caller should re-check later.
func (p *Poller) WaitForDeployment(ctx context.Context, channelID int64) (*types.DeploymentOutcome, error) {
	outcome := &types.DeploymentOutcome{
		ChannelID: channelID,
		State:     types.StateDeploying,
	}

	started := time.Now()

	err := utils.Poll(ctx, p.cfg.DeployInterval, p.cfg.DeployTimeout, func(ctx context.Context) (bool, error) {
		if outcome.ContractAddress == nil {
			addr, err := p.ChildAddress(ctx, channelID)
			if err != nil {
				p.log.Warn("child address getter failed, retrying", map[string]any{"error": err.Error()})
				return false, nil
			}
			if addr == nil {
				return false, nil
			}
			outcome.ContractAddress = addr
			p.log.Debug("child address observed", map[string]any{
				"channel_id": channelID,
				"address":    addr.String(),
			})
		}

		state, err := p.chain.AccountState(ctx, outcome.ContractAddress)
		if err != nil {
			p.log.Warn("account state read failed, retrying", map[string]any{"error": err.Error()})
			return false, nil
		}
		return state.Active, nil
	})

	if errors.Is(err, utils.ErrPollTimeout) {
		outcome.State = types.StateUnknown
		p.rec.IncCounter(metrics.EventDeploymentUnknown, p.labels())
		p.log.Warn("deployment not observed within bound", map[string]any{
			"channel_id": channelID,
			"bound":      p.cfg.DeployTimeout.String(),
		})
		return outcome, nil
	}
	if err != nil {
		return nil, err
	}

	outcome.State = types.StateActive
	p.rec.IncCounter(metrics.EventDeploymentActive, p.labels())
	p.rec.ObserveLatency("wait_for_deployment", time.Since(started), p.labels())
	p.log.Info("deployment active", map[string]any{
		"channel_id": channelID,
		"address":    outcome.ContractAddress.String(),
		"elapsed":    time.Since(started).String(),
	})

	return outcome, nil
}

// ChildAddress reads the factory's child address for a channel.
// Returns (nil, nil) while the contract has no record yet.
func (p *Poller) ChildAddress(ctx context.Context, channelID int64) (*address.Address, error) {
	res, err := p.chain.RunGetter(ctx, p.factory, methodGetChildAddress, big.NewInt(channelID))
	if err != nil {
		if clients.IsExitCode(err) {
			return nil, nil
		}
		return nil, err
	}

	if res.IsNil(0) {
		return nil, nil
	}

	slice, err := res.Slice(0)
	if err != nil {
		return nil, err
	}

	addr, err := slice.LoadAddr()
	if err != nil {
		return nil, err
	}

	// The wire form carries no flag bits; re-encode so the text form
	// round-trips through network-validated entry points.
	return addr.Bounce(true).Testnet(p.cfg.Network.IsTestnet()), nil
}

func (p *Poller) labels() map[string]string {
	return map[string]string{"network": p.cfg.Network.String()}
}
