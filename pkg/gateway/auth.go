package gateway

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/DeBrosOfficial/settlement/pkg/errors"
)

// Request signing headers. The signature is a personal-message signature
// over the raw request body by the caller's identity key.
const (
	HeaderAddress   = "X-Settlement-Address"
	HeaderSignature = "X-Settlement-Signature"
)

type ctxKey int

const ctxKeyCaller ctxKey = iota

// signedCaller authenticates the request by recovering the signer of the
// body and checking it against the claimed address. The verified caller is
// placed in the request context.
func (g *Gateway) signedCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claimed := strings.TrimSpace(r.Header.Get(HeaderAddress))
		if !common.IsHexAddress(claimed) {
			errors.WriteHTTPError(w, errors.NewValidationError("address",
				"missing or invalid caller address header", claimed), requestID(r))
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			errors.WriteHTTPError(w, errors.NewValidationError("body",
				"failed to read request body", nil), requestID(r))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		signer, err := recoverPersonalSigner(body, r.Header.Get(HeaderSignature))
		if err != nil {
			errors.WriteHTTPError(w, err, requestID(r))
			return
		}
		caller := common.HexToAddress(claimed)
		if signer != caller {
			errors.WriteHTTPError(w, errors.NewAuthorizationError("request",
				"body signature by claimed caller"), requestID(r))
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// recoverPersonalSigner recovers the address that produced a personal-message
// signature over msg. Accepts hex with or without a 0x prefix and both V
// encodings.
func recoverPersonalSigner(msg []byte, signature string) (common.Address, error) {
	sigHex := strings.TrimSpace(signature)
	if strings.HasPrefix(sigHex, "0x") || strings.HasPrefix(sigHex, "0X") {
		sigHex = sigHex[2:]
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return common.Address{}, errors.NewValidationError("signature",
			"signature must be 65 hex-encoded bytes", nil)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(msg)))
	hash := ethcrypto.Keccak256(prefix, msg)

	pub, err := ethcrypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, errors.NewValidationError("signature",
			"signature recovery failed", nil)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// SignRequest signs a request body with the caller's identity key and
// returns the address and signature header values. Used by clients and tests.
func SignRequest(body []byte, key *ecdsa.PrivateKey) (string, string, error) {
	prefix := []byte("\x19Ethereum Signed Message:\n" + strconv.Itoa(len(body)))
	hash := ethcrypto.Keccak256(prefix, body)
	sig, err := ethcrypto.Sign(hash, key)
	if err != nil {
		return "", "", errors.Wrap(err, "signing failed")
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return addr.Hex(), "0x" + hex.EncodeToString(sig), nil
}

// parseSignature decodes a hex signature field, with or without a 0x prefix.
func parseSignature(value string) ([]byte, error) {
	sigHex := strings.TrimSpace(value)
	if strings.HasPrefix(sigHex, "0x") || strings.HasPrefix(sigHex, "0X") {
		sigHex = sigHex[2:]
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ethcrypto.SignatureLength {
		return nil, errors.NewValidationError("signature",
			"signature must be 65 hex-encoded bytes", nil)
	}
	return sig, nil
}

func callerFrom(r *http.Request) (common.Address, bool) {
	caller, ok := r.Context().Value(ctxKeyCaller).(common.Address)
	return caller, ok
}
