package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the asset address denoting the network's native currency.
// Native amounts travel as attached call value; every other asset is custodial
// through a TokenBackend.
var NativeAsset = common.Address{}

// AssetKind classifies how an asset's value travels: native amounts ride as
// attached call value, token amounts move through backend allowances.
type AssetKind uint8

const (
	// AssetKindNative marks the network's native currency.
	AssetKindNative AssetKind = iota

	// AssetKindToken marks a custodial token asset.
	AssetKindToken
)

// KindOf returns the kind matching the asset address.
func KindOf(asset common.Address) AssetKind {
	if asset == NativeAsset {
		return AssetKindNative
	}
	return AssetKindToken
}

// Matches reports whether the kind is consistent with the asset address.
func (k AssetKind) Matches(asset common.Address) bool {
	return k == KindOf(asset)
}

// String implements fmt.Stringer.
func (k AssetKind) String() string {
	switch k {
	case AssetKindNative:
		return "native"
	case AssetKindToken:
		return "token"
	default:
		return "unknown"
	}
}

// TokenBackend is the asset custody collaborator. Components never hold token
// funds themselves; they instruct the backend to pull pre-approved amounts in
// and to pay amounts out. An outbound Transfer may hand control to untrusted
// code, so callers apply all internal state changes first and treat a transfer
// error as fatal for the whole operation.
type TokenBackend interface {
	// Transfer pays amount of asset from the component's custody to the
	// recipient.
	Transfer(asset, to common.Address, amount *big.Int) error

	// TransferFrom pulls amount of asset from the owner's pre-approved
	// allowance into the component's custody.
	TransferFrom(asset, from, to common.Address, amount *big.Int) error

	// BalanceOf returns the owner's balance of asset.
	BalanceOf(asset, owner common.Address) *big.Int
}
