package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/xssnick/tonutils-go/address"

	"github.com/grigory9/tonpaywall/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// ValidateAmount checks if an amount string is a valid decimal TON value
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// ValidateAddress checks that s parses as a TON address in either the
// base64 user-friendly form or the raw workchain:hex form.
func ValidateAddress(s string) (*address.Address, error) {
	if s == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	if strings.Contains(s, ":") {
		addr, err := address.ParseRawAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid raw address: %w", err)
		}
		return addr, nil
	}

	addr, err := address.ParseAddr(s)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}
	return addr, nil
}

// ValidateAddressForNetwork additionally rejects addresses whose
// testnet flag contradicts the active network. A mismatched flag makes
// the receiving wallet decline the transaction with no diagnostic, so
// this is checked before any address is handed out.
func ValidateAddressForNetwork(s string, network types.Network) (*address.Address, error) {
	addr, err := ValidateAddress(s)
	if err != nil {
		return nil, err
	}

	// Raw-form addresses carry no flags and are accepted as-is.
	if strings.Contains(s, ":") {
		return addr, nil
	}

	if addr.IsTestnetOnly() != network.IsTestnet() {
		return nil, fmt.Errorf("%w: address %q testnet flag %v, active network %s",
			types.ErrMalformedAddressNetwork, s, addr.IsTestnetOnly(), network)
	}

	return addr, nil
}

// EncodeForNetwork re-encodes addr with the bounce flag and the
// testnet flag matching the network. The raw account data is
// unchanged; only the text-form flags differ.
func EncodeForNetwork(addr *address.Address, network types.Network, bounce bool) string {
	return addr.Bounce(bounce).Testnet(network.IsTestnet()).String()
}

// configEnvelope is the wire form of a gateway config with validation
// tags applied on parse.
type configEnvelope struct {
	Network         string `json:"network" validate:"required,oneof=mainnet testnet"`
	FactoryAddress  string `json:"factoryAddress" validate:"required"`
	RegistrationGas string `json:"registrationGas,omitempty"`
	DeployComment   string `json:"deployComment,omitempty"`
	PurchaseComment string `json:"purchaseComment,omitempty"`
	LogLevel        string `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
}

// ParseConfig parses and validates a gateway config from JSON,
// applying defaults for everything the document leaves out.
func ParseConfig(data []byte) (*types.Config, error) {
	var env configEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &types.GateError{
			Code:    types.ErrCodeConfigError,
			Message: fmt.Sprintf("failed to parse config: %v", err),
		}
	}

	if err := validate.Struct(&env); err != nil {
		return nil, &types.GateError{
			Code:    types.ErrCodeConfigError,
			Message: fmt.Sprintf("config validation failed: %v", err),
		}
	}

	cfg := types.DefaultConfig(types.Network(env.Network))
	cfg.FactoryAddress = env.FactoryAddress
	if env.RegistrationGas != "" {
		cfg.RegistrationGas = env.RegistrationGas
	}
	if env.DeployComment != "" {
		cfg.DeployComment = env.DeployComment
	}
	if env.PurchaseComment != "" {
		cfg.PurchaseComment = env.PurchaseComment
	}
	if env.LogLevel != "" {
		cfg.LogLevel = env.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, &types.GateError{
			Code:    types.ErrCodeConfigError,
			Message: err.Error(),
		}
	}

	return cfg, nil
}
