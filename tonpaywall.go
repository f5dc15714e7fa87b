// Package tonpaywall coordinates pay-per-access channel deployments
// against an on-chain factory contract: registration of deployment
// parameters under the restricted deployer identity, two-phase
// confirmation, user deploy-trigger construction, deployment polling,
// and inbound payment verification.
package tonpaywall

import (
	"context"
	"errors"
	"time"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/grigory9/tonpaywall/clients"
	"github.com/grigory9/tonpaywall/deployment"
	"github.com/grigory9/tonpaywall/logger"
	"github.com/grigory9/tonpaywall/metrics"
	"github.com/grigory9/tonpaywall/registration"
	"github.com/grigory9/tonpaywall/types"
	"github.com/grigory9/tonpaywall/utils"
	"github.com/grigory9/tonpaywall/verification"
	paywallet "github.com/grigory9/tonpaywall/wallet"
)

// Gateway is the main entry point wiring the signer, coordinator,
// builder, poller and verifier together over one chain client.
type Gateway struct {
	cfg   *types.Config
	chain clients.Client

	signer      *paywallet.Signer
	coordinator *registration.Coordinator
	builder     *deployment.Builder
	poller      *deployment.Poller
	verifier    *verification.Verifier

	log logger.Logger
	rec metrics.Recorder

	ownsChain bool
}

// New dials the liteservers for the configured network, derives the
// deployer wallet when a seed is configured, and returns a ready
// gateway.
func New(ctx context.Context, cfg *types.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &types.GateError{Code: types.ErrCodeConfigError, Message: err.Error()}
	}

	configURL := cfg.LiteserverConfigURL
	if configURL == "" {
		configURL = cfg.Network.GlobalConfigURL()
	}

	chain, err := clients.NewTONClient(ctx, configURL)
	if err != nil {
		return nil, err
	}

	var signer *paywallet.Signer
	if len(cfg.WalletSeed) > 0 {
		signer, err = paywallet.FromSeed(chain, cfg.WalletSeed)
		if err != nil {
			chain.Close()
			return nil, err
		}
	}

	g, err := NewWithClient(cfg, chain, signer, opts...)
	if err != nil {
		chain.Close()
		return nil, err
	}
	g.ownsChain = true
	return g, nil
}

// NewWithClient builds a gateway over an injected chain client and
// signer. The client stays owned by the caller. A nil signer yields a
// verification-only gateway that cannot register deployments.
func NewWithClient(cfg *types.Config, chain clients.Client, signer *paywallet.Signer, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &types.GateError{Code: types.ErrCodeConfigError, Message: err.Error()}
	}

	g := &Gateway{
		cfg:    cfg,
		chain:  chain,
		signer: signer,
		log:    logger.NoopLogger{},
		rec:    metrics.NoopRecorder{},
	}
	if cfg.EnableMetrics {
		g.rec = metrics.NewPrometheusRecorder()
	}

	for _, opt := range opts {
		opt(g)
	}

	builder, err := deployment.NewBuilder(cfg)
	if err != nil {
		return nil, err
	}
	g.builder = builder

	poller, err := deployment.NewPoller(cfg, chain, g.log, g.rec)
	if err != nil {
		return nil, err
	}
	g.poller = poller

	g.verifier = verification.NewVerifier(cfg, chain, g.log, g.rec)

	if signer != nil {
		coordinator, err := registration.NewCoordinator(cfg, chain, signer, g.log, g.rec)
		if err != nil {
			return nil, err
		}
		g.coordinator = coordinator
	}

	return g, nil
}

// RegisterDeployment registers the deployment parameters for a user
// wallet on the factory and confirms them through both phases. Only
// after it returns may the deploy trigger be handed to the user.
func (g *Gateway) RegisterDeployment(ctx context.Context, channelID int64, userWallet string, priceTON string) (*types.DeploymentRegistration, error) {
	if g.coordinator == nil {
		return nil, &types.GateError{
			Code:    types.ErrCodeConfigError,
			Message: "no deployer wallet configured",
		}
	}

	wallet, err := utils.ValidateAddressForNetwork(userWallet, g.cfg.Network)
	if err != nil {
		return nil, err
	}

	price, err := types.AmountFromTON(priceTON)
	if err != nil {
		return nil, err
	}

	return g.coordinator.RegisterDeployment(ctx, channelID, wallet, price)
}

// GetRegisteredDeployment reads the live registration for a wallet,
// if any.
func (g *Gateway) GetRegisteredDeployment(ctx context.Context, userWallet string) (*types.DeploymentRegistration, error) {
	if g.coordinator == nil {
		return nil, &types.GateError{
			Code:    types.ErrCodeConfigError,
			Message: "no deployer wallet configured",
		}
	}

	wallet, err := utils.ValidateAddressForNetwork(userWallet, g.cfg.Network)
	if err != nil {
		return nil, err
	}

	return g.coordinator.GetRegisteredDeployment(ctx, wallet)
}

// BuildDeployMessage returns the raw trigger body cell.
func (g *Gateway) BuildDeployMessage() *cell.Cell {
	return g.builder.BuildDeployMessage()
}

// BuildDeployPayload returns the base64 BoC trigger body for wallet
// deep links.
func (g *Gateway) BuildDeployPayload() string {
	return g.builder.BuildDeployPayload()
}

// BuildTargetAddress returns the factory address encoded for the
// active network.
func (g *Gateway) BuildTargetAddress() string {
	return g.builder.BuildTargetAddress()
}

// WaitForDeployment polls until the channel's child contract is
// active, or reports an Unknown outcome at the bound.
func (g *Gateway) WaitForDeployment(ctx context.Context, channelID int64) (*types.DeploymentOutcome, error) {
	return g.poller.WaitForDeployment(ctx, channelID)
}

// VerifyPayment runs one verification pass over the contract's recent
// inbound transactions.
func (g *Gateway) VerifyPayment(ctx context.Context, contractAddr string, expectedTON string, since *time.Time) (*types.PaymentMatch, error) {
	addr, err := utils.ValidateAddressForNetwork(contractAddr, g.cfg.Network)
	if err != nil {
		return nil, err
	}

	expected, err := types.AmountFromTON(expectedTON)
	if err != nil {
		return nil, err
	}

	return g.verifier.VerifyPayment(ctx, addr, expected, since)
}

// AwaitAccessPurchase re-runs payment verification on interval until a
// match appears or the timeout passes. A not-found result at the bound
// is returned with a nil error; an underpaid rejection aborts
// immediately because waiting will not fix it.
func (g *Gateway) AwaitAccessPurchase(ctx context.Context, contractAddr string, expectedTON string, since *time.Time, interval, timeout time.Duration) (*types.PaymentMatch, error) {
	var match *types.PaymentMatch

	err := utils.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		m, err := g.VerifyPayment(ctx, contractAddr, expectedTON, since)
		if err != nil {
			if errors.Is(err, types.ErrUnderpaidRejected) {
				return false, err
			}
			g.log.Warn("payment verification pass failed, retrying", map[string]any{"error": err.Error()})
			return false, nil
		}
		if m.Found {
			match = m
			return true, nil
		}
		return false, nil
	})

	if errors.Is(err, utils.ErrPollTimeout) {
		return &types.PaymentMatch{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return match, nil
}

// RegistrationPrice parses the configured gas value, exposed for
// callers that display the total the user must attach.
func (g *Gateway) RegistrationPrice() (tlb.Coins, error) {
	return types.AmountFromTON(g.cfg.RegistrationGas)
}

// Network returns the active network.
func (g *Gateway) Network() types.Network {
	return g.cfg.Network
}

// Close releases the chain client when the gateway owns it.
func (g *Gateway) Close() {
	if g.ownsChain && g.chain != nil {
		g.chain.Close()
	}
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"supported_networks": []string{
			string(types.NetworkMainnet), string(types.NetworkTestnet),
		},
	}
}

