package ledger

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/typeddata"
)

// orderTypeString fixes the field order of the signed purchase order. Any
// mutation of a signed field produces a different struct hash and therefore a
// different recovered signer.
const orderTypeString = "UsageOrder(address client,uint8 assetKind,address asset,uint64 units,uint256 totalPrice,uint64 nonce)"

// UsageOrder is a purchase authorization signed by the configured billing
// authority on behalf of a client.
type UsageOrder struct {
	Client     common.Address
	Kind       contracts.AssetKind
	Asset      common.Address
	Units      uint64
	TotalPrice *big.Int
	Nonce      uint64
}

// Hash returns the canonical struct hash of the order's signed fields.
func (o *UsageOrder) Hash() common.Hash {
	return typeddata.StructHash(orderTypeString,
		typeddata.EncodeAddress(o.Client),
		typeddata.EncodeUint8(uint8(o.Kind)),
		typeddata.EncodeAddress(o.Asset),
		typeddata.EncodeUint64(o.Units),
		typeddata.EncodeBig(o.TotalPrice),
		typeddata.EncodeUint64(o.Nonce),
	)
}

// Digest returns the domain-separated digest the authority signs.
func (o *UsageOrder) Digest(domain typeddata.Domain) common.Hash {
	return domain.Digest(o.Hash())
}

// SignOrder signs the order for the given domain. Used by the billing
// authority tooling and the tests.
func SignOrder(domain typeddata.Domain, o *UsageOrder, key *ecdsa.PrivateKey) ([]byte, error) {
	return typeddata.Sign(o.Digest(domain), key)
}
