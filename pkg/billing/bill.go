package billing

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/DeBrosOfficial/settlement/pkg/contracts"
	"github.com/DeBrosOfficial/settlement/pkg/typeddata"
)

const billTypeString = "Bill(address client,address node,uint8 assetKind,address asset,uint256 unitPrice,uint64 usedAmount,uint64 nonce)"

// Bill is a node-signed, pay-per-transaction statement. The node and client
// agree on it off-channel; the node signs its canonical hash and the client
// submits bill, signature, and payment together.
type Bill struct {
	Client     common.Address
	Node       common.Address
	Kind       contracts.AssetKind
	Asset      common.Address
	UnitPrice  *big.Int
	UsedAmount uint64
	Nonce      uint64
}

// Total returns unit price times used amount.
func (b *Bill) Total() *big.Int {
	return new(big.Int).Mul(b.UnitPrice, new(big.Int).SetUint64(b.UsedAmount))
}

// Hash returns the canonical fixed-field-order hash of the bill.
func (b *Bill) Hash() common.Hash {
	return typeddata.StructHash(billTypeString,
		typeddata.EncodeAddress(b.Client),
		typeddata.EncodeAddress(b.Node),
		typeddata.EncodeUint8(uint8(b.Kind)),
		typeddata.EncodeAddress(b.Asset),
		typeddata.EncodeBig(b.UnitPrice),
		typeddata.EncodeUint64(b.UsedAmount),
		typeddata.EncodeUint64(b.Nonce),
	)
}

// Digest returns the domain-separated digest the node signs.
func (b *Bill) Digest(domain typeddata.Domain) common.Hash {
	return domain.Digest(b.Hash())
}

// SignBill signs the bill's digest for the given domain.
func SignBill(domain typeddata.Domain, b *Bill, key *ecdsa.PrivateKey) ([]byte, error) {
	return typeddata.Sign(b.Digest(domain), key)
}
