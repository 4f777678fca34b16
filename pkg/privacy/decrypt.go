package privacy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrDecryptDenied is returned when the decryption service rejects the
// agent's identity or the query (HTTP 403). Not retryable with the same
// session.
var ErrDecryptDenied = errors.New("decryption denied")

// Decrypter is the threshold-decryption capability. The agent proves
// possession of a certified session identity bound to the ledger package
// and namespace; the service returns the plaintext order payload.
type Decrypter interface {
	Decrypt(ctx context.Context, orderID string, blob []byte) ([]byte, error)
}

// decryptRequest is the signed body sent to the service. The signature
// covers the JSON rendering of every field except itself.
type decryptRequest struct {
	Package     string      `json:"package"`
	Namespace   string      `json:"namespace"`
	Blob        string      `json:"blob"`  // base64
	Query       string      `json:"query"` // order id the request is bound to
	Certificate Certificate `json:"certificate"`
	Signature   string      `json:"signature,omitempty"` // base64 ed25519
}

// HTTPDecrypter calls the external decryption service.
type HTTPDecrypter struct {
	base    string
	session *Session
	client  *http.Client
}

func NewHTTPDecrypter(baseURL string, session *Session) *HTTPDecrypter {
	return &HTTPDecrypter{
		base:    baseURL,
		session: session,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *HTTPDecrypter) Decrypt(ctx context.Context, orderID string, blob []byte) ([]byte, error) {
	cert := d.session.Certificate()
	reqBody := decryptRequest{
		Package:     cert.Package,
		Namespace:   cert.Namespace,
		Blob:        base64.StdEncoding.EncodeToString(blob),
		Query:       orderID,
		Certificate: cert,
	}

	unsigned, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal decrypt request: %w", err)
	}
	reqBody.Signature = base64.StdEncoding.EncodeToString(d.session.Sign(unsigned))

	signed, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal decrypt request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+"/v1/decrypt", bytes.NewReader(signed))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", orderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("decrypt %s: %w", orderID, ErrDecryptDenied)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("decrypt %s: status %d", orderID, resp.StatusCode)
	}

	var out struct {
		Plaintext string `json:"plaintext"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decrypt %s: decode response: %w", orderID, err)
	}
	plain, err := base64.StdEncoding.DecodeString(out.Plaintext)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: bad plaintext encoding: %w", orderID, err)
	}
	return plain, nil
}
