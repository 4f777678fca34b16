package order

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/EmoBanana/veiled/pkg/crypto"
)

// Canonical digests are keccak256 over a canonical JSON rendering: keys in
// alphabetical order, floats in shortest decimal form, no whitespace. Both
// the payload signature and the legacy STRATEGY_UPDATE signature use this
// scheme, so a signer only ever needs the plain field values.

func keccak(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func fnum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// PayloadDigest hashes the signable fields of an order payload. Signature
// itself is excluded. Owner is rendered lowercase so checksummed and plain
// hex inputs digest identically.
func PayloadDigest(p *OrderPayload) []byte {
	var b strings.Builder
	b.WriteString(`{"amount":`)
	b.WriteString(fnum(p.Amount))
	b.WriteString(`,"direction":"`)
	b.WriteString(p.Direction.String())
	b.WriteString(`","ownerAddress":"`)
	b.WriteString(strings.ToLower(p.Owner.Hex()))
	b.WriteString(`","targetPrice":`)
	b.WriteString(fnum(p.TargetPrice))
	b.WriteString(`}`)
	return keccak([]byte(b.String()))
}

// SignPayload fills p.Signature with the signer's signature over the
// canonical digest. Used by the sign-order utility and tests.
func SignPayload(s *crypto.Signer, p *OrderPayload) error {
	sig, err := s.Sign(PayloadDigest(p))
	if err != nil {
		return fmt.Errorf("sign payload: %w", err)
	}
	p.Signature = sig
	return nil
}

// VerifyPayloadSignature checks that p.Signature recovers to p.Owner over
// the canonical digest of the exact payload fields. A payload without a
// signature verifies trivially; anchoring already proves chain custody.
func VerifyPayloadSignature(p *OrderPayload) bool {
	if len(p.Signature) == 0 {
		return true
	}
	return crypto.VerifySignature(p.Owner, PayloadDigest(p), p.Signature)
}

// StrategyDigest hashes the legacy freeform STRATEGY_UPDATE message:
// {intent, nonce, price, user}, canonical JSON, keys sorted.
func StrategyDigest(intent string, nonce uint64, price float64, user common.Address) []byte {
	var b strings.Builder
	b.WriteString(`{"intent":"`)
	b.WriteString(intent)
	b.WriteString(`","nonce":`)
	b.WriteString(strconv.FormatUint(nonce, 10))
	b.WriteString(`,"price":`)
	b.WriteString(fnum(price))
	b.WriteString(`,"user":"`)
	b.WriteString(strings.ToLower(user.Hex()))
	b.WriteString(`"}`)
	return keccak([]byte(b.String()))
}
