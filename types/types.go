package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tlb"
)

// DeploymentState represents the observable lifecycle of a channel
// contract deployment as seen from the backend.
type DeploymentState string

const (
	StatePending             DeploymentState = "pending"
	StateAwaitingUserPayment DeploymentState = "awaiting_user_payment"
	StateDeploying           DeploymentState = "deploying"
	StateActive              DeploymentState = "active"
	StateFailed              DeploymentState = "failed"

	// StateUnknown means the trigger transaction was sent but the child
	// contract address was not observed within the polling bound. The
	// deployment may still complete; callers should re-check later.
	StateUnknown DeploymentState = "unknown"
)

// DeploymentRegistration mirrors the record the factory contract keeps
// in its registration map, keyed by a hash of the user wallet. The
// contract holds at most one live registration per wallet and expires
// it after a fixed window.
type DeploymentRegistration struct {
	UserWallet   *address.Address `json:"userWallet"`
	ChannelID    int64            `json:"channelId"`
	Price        tlb.Coins        `json:"price"`
	RegisteredAt time.Time        `json:"registeredAt"`
}

// DeploymentOutcome is the transient result of a deployment attempt.
// It is held in process memory only and discarded once Active or
// Failed is reported upstream.
type DeploymentOutcome struct {
	ChannelID       int64            `json:"channelId"`
	ContractAddress *address.Address `json:"contractAddress,omitempty"`
	State           DeploymentState  `json:"state"`
	FailReason      string           `json:"failReason,omitempty"`
}

// PaymentMatch is produced fresh by every payment verification pass.
// Found=false is an expected outcome, not a fault.
type PaymentMatch struct {
	Found       bool             `json:"found"`
	TxHash      []byte           `json:"txHash,omitempty"`
	FromAddress *address.Address `json:"fromAddress,omitempty"`
	Amount      tlb.Coins        `json:"amount,omitempty"`
	Timestamp   time.Time        `json:"timestamp,omitempty"`

	// Overpaid is set when the attached value exceeds the expected
	// amount. The match is still valid.
	Overpaid bool `json:"overpaid,omitempty"`
}

// Config contains configuration for the paywall gateway.
type Config struct {
	Network        Network `json:"network"`
	FactoryAddress string  `json:"factoryAddress"`

	// LiteserverConfigURL points at a global config for the liteserver
	// pool. Ignored when a chain client is injected directly.
	LiteserverConfigURL string `json:"liteserverConfigUrl,omitempty"`

	// WalletSeed is the 24-word seed of the deployer wallet. Only the
	// restricted deployer identity is ever held by the backend.
	WalletSeed []string `json:"-"`

	// RegistrationGas is the fixed value attached to RegisterDeployment
	// messages, in TON (e.g. "0.05").
	RegistrationGas string `json:"registrationGas,omitempty"`

	AcceptanceInterval time.Duration `json:"acceptanceInterval,omitempty"`
	AcceptanceTimeout  time.Duration `json:"acceptanceTimeout,omitempty"`
	VisibilityInterval time.Duration `json:"visibilityInterval,omitempty"`
	VisibilityTimeout  time.Duration `json:"visibilityTimeout,omitempty"`
	DeployInterval     time.Duration `json:"deployInterval,omitempty"`
	DeployTimeout      time.Duration `json:"deployTimeout,omitempty"`

	// DeployComment is the trigger comment the factory expects from the
	// user's wallet. PurchaseComment marks ongoing access purchases on
	// the channel contract.
	DeployComment   string `json:"deployComment,omitempty"`
	PurchaseComment string `json:"purchaseComment,omitempty"`

	// HistoryLimit bounds how many transactions a verification pass
	// fetches from the chain.
	HistoryLimit uint32 `json:"historyLimit,omitempty"`

	LogLevel      string `json:"logLevel,omitempty"`
	EnableMetrics bool   `json:"enableMetrics,omitempty"`
}

// DefaultConfig returns a Config with the standard polling bounds.
func DefaultConfig(network Network) *Config {
	return &Config{
		Network:            network,
		RegistrationGas:    "0.05",
		AcceptanceInterval: 2 * time.Second,
		AcceptanceTimeout:  60 * time.Second,
		VisibilityInterval: 2 * time.Second,
		VisibilityTimeout:  30 * time.Second,
		DeployInterval:     2 * time.Second,
		DeployTimeout:      60 * time.Second,
		DeployComment:      "deploy",
		PurchaseComment:    "purchase",
		HistoryLimit:       32,
		LogLevel:           "info",
	}
}

func (c *Config) Validate() error {
	if c.Network == "" {
		return fmt.Errorf("config.network is required")
	}

	if !c.Network.IsMainnet() && !c.Network.IsTestnet() {
		return fmt.Errorf("config.network %q is not a known network", c.Network)
	}

	if c.FactoryAddress == "" {
		return fmt.Errorf("config.factoryAddress is required")
	}

	if _, err := address.ParseAddr(c.FactoryAddress); err != nil {
		return fmt.Errorf("config.factoryAddress is not a valid address: %w", err)
	}

	if c.RegistrationGas != "" {
		if _, err := tlb.FromTON(c.RegistrationGas); err != nil {
			return fmt.Errorf("config.registrationGas is not a valid TON amount: %w", err)
		}
	}

	if c.AcceptanceTimeout <= 0 || c.VisibilityTimeout <= 0 || c.DeployTimeout <= 0 {
		return fmt.Errorf("config polling timeouts must be greater than 0")
	}

	if c.AcceptanceInterval <= 0 || c.VisibilityInterval <= 0 || c.DeployInterval <= 0 {
		return fmt.Errorf("config polling intervals must be greater than 0")
	}

	return nil
}

// GateError is the typed error carried across the paywall boundary.
type GateError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *GateError) Error() string {
	return e.Message
}

// Is matches GateErrors by code so wrapped sentinels survive
// fmt.Errorf chains.
func (e *GateError) Is(target error) bool {
	t, ok := target.(*GateError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Common error codes
const (
	ErrCodeAcceptanceTimeout = "ACCEPTANCE_TIMEOUT"
	ErrCodeVisibilityTimeout = "VISIBILITY_TIMEOUT"
	ErrCodeUnderpaid         = "UNDERPAID_REJECTED"
	ErrCodeMalformedAddress  = "MALFORMED_ADDRESS_NETWORK"
	ErrCodeBroadcastFailed   = "BROADCAST_FAILED"
	ErrCodeNetworkError      = "NETWORK_ERROR"
	ErrCodeConfigError       = "CONFIG_ERROR"
)

// Sentinel errors for the recoverable/terminal distinction. Wrap them
// with fmt.Errorf("%w: ...") so callers can branch with errors.Is.
var (
	// ErrAcceptanceTimeout: the deployer wallet seqno never advanced.
	// The registration was likely never accepted; safe to retry from
	// scratch.
	ErrAcceptanceTimeout = &GateError{
		Code:    ErrCodeAcceptanceTimeout,
		Message: "registration was not accepted by the network within the bound",
	}

	// ErrVisibilityTimeout: the network accepted the registration but
	// the factory getter never reflected it. Retry the poll; do not
	// resubmit the registration.
	ErrVisibilityTimeout = &GateError{
		Code:    ErrCodeVisibilityTimeout,
		Message: "registration accepted but not visible in factory state within the bound",
	}

	// ErrUnderpaidRejected: an inbound payment matched the purchase
	// comment but fell below the tolerance floor. Terminal for that
	// attempt; the user must resend.
	ErrUnderpaidRejected = &GateError{
		Code:    ErrCodeUnderpaid,
		Message: "payment amount below accepted tolerance",
	}

	// ErrMalformedAddressNetwork: an address was encoded with flags that
	// do not match the active network. Programming error, never coerced.
	ErrMalformedAddressNetwork = &GateError{
		Code:    ErrCodeMalformedAddress,
		Message: "address flags do not match the active network",
	}
)

// AmountFromTON parses a human-denominated TON amount.
func AmountFromTON(s string) (tlb.Coins, error) {
	coins, err := tlb.FromTON(s)
	if err != nil {
		return tlb.Coins{}, &GateError{
			Code:    ErrCodeConfigError,
			Message: fmt.Sprintf("invalid TON amount %q: %v", s, err),
		}
	}
	return coins, nil
}

// AmountDecimal converts coins to a decimal in nanoton units for
// tolerance arithmetic.
func AmountDecimal(c tlb.Coins) decimal.Decimal {
	return decimal.NewFromBigInt(c.Nano(), 0)
}
