package privacy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/EmoBanana/veiled/pkg/crypto"
)

func newTestSession(t *testing.T) (*Session, *crypto.Signer) {
	t.Helper()
	master, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate master key: %v", err)
	}
	session, err := NewSession(master, "0xledger", "orders", time.Hour)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session, master
}

func TestCertificateVerifies(t *testing.T) {
	session, master := newTestSession(t)
	cert := session.Certificate()

	if !VerifyCertificate(cert, master.Address(), time.Now()) {
		t.Error("valid certificate rejected")
	}

	// Expired
	if VerifyCertificate(cert, master.Address(), time.Now().Add(2*time.Hour)) {
		t.Error("expired certificate accepted")
	}

	// Wrong master
	other, _ := crypto.GenerateKey()
	if VerifyCertificate(cert, other.Address(), time.Now()) {
		t.Error("certificate accepted for wrong master")
	}

	// Tampered namespace breaks the master signature
	cert.Namespace = "everything"
	if VerifyCertificate(cert, master.Address(), time.Now()) {
		t.Error("tampered certificate accepted")
	}
}

func TestRequestSignature(t *testing.T) {
	session, _ := newTestSession(t)
	body := []byte(`{"query":"0xabc"}`)

	sig := session.Sign(body)
	if !VerifyRequestSig(session.Certificate(), body, sig) {
		t.Error("valid request signature rejected")
	}
	if VerifyRequestSig(session.Certificate(), []byte("other"), sig) {
		t.Error("signature verified for wrong body")
	}
}

func TestHTTPDecrypter(t *testing.T) {
	session, master := newTestSession(t)
	plaintext := []byte(`{"targetPrice":2950}`)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req decryptRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		// Service-side checks: certificate chain and request signature.
		if !VerifyCertificate(req.Certificate, master.Address(), time.Now()) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		sig, _ := base64.StdEncoding.DecodeString(req.Signature)
		unsigned := req
		unsigned.Signature = ""
		body, _ := json.Marshal(unsigned)
		if !VerifyRequestSig(req.Certificate, body, sig) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if req.Query != "0xorder1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		json.NewEncoder(w).Encode(map[string]string{
			"plaintext": base64.StdEncoding.EncodeToString(plaintext),
		})
	}))
	defer srv.Close()

	d := NewHTTPDecrypter(srv.URL, session)

	got, err := d.Decrypt(context.Background(), "0xorder1", []byte("ciphertext"))
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plaintext) {
		t.Errorf("plaintext = %q, want %q", got, plaintext)
	}

	// Query the certificate is not good for → 403 → ErrDecryptDenied
	_, err = d.Decrypt(context.Background(), "0xother", []byte("ciphertext"))
	if !errors.Is(err, ErrDecryptDenied) {
		t.Errorf("err = %v, want ErrDecryptDenied", err)
	}
}

func TestBlobClientRoundTrip(t *testing.T) {
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			stored["ref-1"] = data
			json.NewEncoder(w).Encode(map[string]string{"ref": "ref-1"})
		case http.MethodGet:
			ref := r.URL.Path[len("/v1/blobs/"):]
			data, ok := stored[ref]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		}
	}))
	defer srv.Close()

	c := NewBlobClient(srv.URL)

	ref, err := c.Store(context.Background(), []byte("encrypted"))
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if ref != "ref-1" {
		t.Errorf("ref = %q, want ref-1", ref)
	}

	got, err := c.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "encrypted" {
		t.Errorf("blob = %q, want encrypted", got)
	}

	// Missing ref is an error
	if _, err := c.Fetch(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing blob")
	}
}
