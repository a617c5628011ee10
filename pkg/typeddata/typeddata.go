// Package typeddata implements the canonical, domain-separated hashing scheme
// used for off-channel signed messages (usage orders and bills). A message is
// hashed over a fixed field order together with a domain separator naming the
// component, its version, and the deployed instance, so a signature can never
// be replayed against a different message type or a different deployment.
package typeddata

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/DeBrosOfficial/settlement/pkg/errors"
)

// Domain identifies one deployed component instance for signature scoping.
type Domain struct {
	Name     string
	Version  string
	Instance common.Address
}

var domainTypeHash = ethcrypto.Keccak256([]byte("Domain(string name,string version,address instance)"))

// Separator returns the domain separator hash.
func (d Domain) Separator() common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		domainTypeHash,
		ethcrypto.Keccak256([]byte(d.Name)),
		ethcrypto.Keccak256([]byte(d.Version)),
		EncodeAddress(d.Instance),
	))
}

// Digest combines the domain separator with a struct hash into the final
// digest that gets signed. The 0x19 0x01 prefix keeps the digest from ever
// colliding with a plain signed message.
func (d Domain) Digest(structHash common.Hash) common.Hash {
	return common.BytesToHash(ethcrypto.Keccak256(
		[]byte{0x19, 0x01},
		d.Separator().Bytes(),
		structHash.Bytes(),
	))
}

// EncodeAddress left-pads an address to a 32-byte word.
func EncodeAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}

// EncodeUint64 encodes v as a 32-byte big-endian word.
func EncodeUint64(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

// EncodeUint8 encodes v as a 32-byte big-endian word.
func EncodeUint8(v uint8) []byte {
	return common.LeftPadBytes([]byte{v}, 32)
}

// EncodeBig encodes a non-negative big integer as a 32-byte big-endian word.
func EncodeBig(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

// StructHash hashes a type string together with its already-encoded fields.
func StructHash(typeString string, encodedFields ...[]byte) common.Hash {
	chunks := make([][]byte, 0, len(encodedFields)+1)
	chunks = append(chunks, ethcrypto.Keccak256([]byte(typeString)))
	chunks = append(chunks, encodedFields...)
	return common.BytesToHash(ethcrypto.Keccak256(chunks...))
}

// Sign signs a digest with the given key, producing a 65-byte [R || S || V]
// signature with V in {0, 1}.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, errors.Wrap(err, "signing failed")
	}
	return sig, nil
}

// Recover returns the address that signed the digest. Accepts both V in
// {0, 1} and the legacy {27, 28} encoding.
func Recover(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, errors.NewValidationError("signature",
			"signature must be 65 bytes", len(sig))
	}
	normalized := make([]byte, ethcrypto.SignatureLength)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "signature recovery failed")
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}
