// Package deployment covers the user-facing half of a channel
// deployment: building the trigger message the user's wallet signs,
// and polling the factory until the child contract goes live.
package deployment

import (
	"encoding/base64"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/grigory9/tonpaywall/types"
	"github.com/grigory9/tonpaywall/utils"
)

// Builder produces the payment+trigger message handed to the end
// user's wallet. No server-held key is involved: the parameters were
// already registered on-chain, and the factory deploys autonomously
// when the trigger comment arrives from the registered wallet.
type Builder struct {
	factory *address.Address
	network types.Network
	comment string
}

func NewBuilder(cfg *types.Config) (*Builder, error) {
	factory, err := utils.ValidateAddressForNetwork(cfg.FactoryAddress, cfg.Network)
	if err != nil {
		return nil, err
	}

	return &Builder{
		factory: factory,
		network: cfg.Network,
		comment: cfg.DeployComment,
	}, nil
}

// BuildDeployMessage returns the trigger body: an opcode-0 text
// comment. It carries no parameters; those are already visible in the
// factory's state keyed by the sender identity.
func (b *Builder) BuildDeployMessage() *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(0, 32).
		MustStoreStringSnake(b.comment).
		EndCell()
}

// BuildDeployPayload returns the trigger body as a base64 BoC, the
// form wallet deep links expect.
func (b *Builder) BuildDeployPayload() string {
	return base64.StdEncoding.EncodeToString(b.BuildDeployMessage().ToBOC())
}

// BuildTargetAddress returns the factory address encoded for the
// active network. The text form carries two flag bits, bounce and
// testnet-only; a testnet flag that contradicts the network makes the
// signing wallet decline the transaction with no useful diagnostic,
// so the flag always follows the configured network here.
func (b *Builder) BuildTargetAddress() string {
	return utils.EncodeForNetwork(b.factory, b.network, true)
}
