// Package commit computes the commitment digest binding a consensus
// price to its on-chain verifier: a MiMC hash over the BN254 scalar
// field, rendered as a hex field element. The function is a pure hash
// of its inputs so verifiers can recompute it independently.
package commit

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// PriceDecimals is the fixed-point scale applied to prices before they
// enter the field. It matches the canonical four-decimal rounding.
const PriceDecimals = 4

// Digest hashes (price, timestamp, assetID, optional proofDigest) into
// the scalar field. The price is scaled to integer units; the asset
// identifier and proof digest are interpreted as big-endian integers
// reduced into the field.
func Digest(price float64, timestamp int64, assetID string, proofDigest []byte) (string, error) {
	if assetID == "" {
		return "", fmt.Errorf("asset id must not be empty")
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return "", fmt.Errorf("price must be finite and non-negative")
	}
	if timestamp <= 0 {
		return "", fmt.Errorf("timestamp must be a positive epoch")
	}

	hasher := mimc.NewMiMC()

	for _, element := range []fr.Element{
		fieldFromBytes([]byte(assetID)),
		fieldFromUint(ScalePrice(price)),
		fieldFromUint(uint64(timestamp)),
	} {
		b := element.Bytes()
		if _, err := hasher.Write(b[:]); err != nil {
			return "", fmt.Errorf("failed to absorb commitment input: %w", err)
		}
	}

	if len(proofDigest) > 0 {
		element := fieldFromBytes(proofDigest)
		b := element.Bytes()
		if _, err := hasher.Write(b[:]); err != nil {
			return "", fmt.Errorf("failed to absorb proof digest: %w", err)
		}
	}

	sum := hasher.Sum(nil)
	return "0x" + hex.EncodeToString(sum), nil
}

// ScalePrice converts a price to fixed-point integer units.
func ScalePrice(price float64) uint64 {
	return uint64(math.Round(price * math.Pow(10, PriceDecimals)))
}

// fieldFromBytes reduces a big-endian byte string into the field.
func fieldFromBytes(b []byte) fr.Element {
	var element fr.Element
	v := new(big.Int).SetBytes(b)
	v.Mod(v, fr.Modulus())
	element.SetBigInt(v)
	return element
}

func fieldFromUint(v uint64) fr.Element {
	var element fr.Element
	element.SetUint64(v)
	return element
}
