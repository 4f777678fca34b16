package privacy

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/EmoBanana/veiled/pkg/crypto"
)

// Certificate binds an ephemeral ed25519 session key to the agent's master
// identity, a ledger package, and a namespace. The decryption service grants
// key shares only to requests carrying a valid, unexpired certificate.
type Certificate struct {
	SessionPub string `json:"sessionPub"` // base64 ed25519 public key
	Package    string `json:"package"`    // ledger package identifier
	Namespace  string `json:"namespace"`
	ExpiresAt  int64  `json:"expiresAt"` // unix seconds
	MasterSig  string `json:"masterSig"` // hex secp256k1 sig by the agent key
}

// Session is the agent's live decryption identity: the certified ed25519
// key pair used to sign every decryption request.
type Session struct {
	priv ed25519.PrivateKey
	cert Certificate
}

// NewSession generates an ed25519 session key and certifies it with the
// agent's master key for the given package/namespace and TTL.
func NewSession(master *crypto.Signer, pkg, namespace string, ttl time.Duration) (*Session, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate session key: %w", err)
	}

	cert := Certificate{
		SessionPub: base64.StdEncoding.EncodeToString(pub),
		Package:    pkg,
		Namespace:  namespace,
		ExpiresAt:  time.Now().Add(ttl).Unix(),
	}
	sig, err := master.Sign(certDigest(cert))
	if err != nil {
		return nil, fmt.Errorf("certify session key: %w", err)
	}
	cert.MasterSig = fmt.Sprintf("0x%x", sig)

	return &Session{priv: priv, cert: cert}, nil
}

// Certificate returns the certificate presented with every request.
func (s *Session) Certificate() Certificate {
	return s.cert
}

// Sign signs a request body with the session key.
func (s *Session) Sign(body []byte) []byte {
	return ed25519.Sign(s.priv, body)
}

// VerifyCertificate checks that cert was issued by master and has not
// expired. Mirrors the service-side check; used by fakes in tests.
func VerifyCertificate(cert Certificate, master common.Address, now time.Time) bool {
	if now.Unix() > cert.ExpiresAt {
		return false
	}
	sig := common.FromHex(cert.MasterSig)
	return crypto.VerifySignature(master, certDigest(cert), sig)
}

// VerifyRequestSig checks an ed25519 signature against the certificate's
// session key.
func VerifyRequestSig(cert Certificate, body, sig []byte) bool {
	pub, err := base64.StdEncoding.DecodeString(cert.SessionPub)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), body, sig)
}

// certDigest hashes the certificate fields in canonical order, excluding
// the master signature itself.
func certDigest(cert Certificate) []byte {
	var b strings.Builder
	b.WriteString(`{"expiresAt":`)
	b.WriteString(strconv.FormatInt(cert.ExpiresAt, 10))
	b.WriteString(`,"namespace":"`)
	b.WriteString(cert.Namespace)
	b.WriteString(`","package":"`)
	b.WriteString(cert.Package)
	b.WriteString(`","sessionPub":"`)
	b.WriteString(cert.SessionPub)
	b.WriteString(`"}`)
	return ethcrypto.Keccak256([]byte(b.String()))
}
