package middleware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(secret, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func signatureRouter(secrets map[string]string) (*chi.Mux, *string) {
	var seenBody string
	r := chi.NewRouter()
	r.Route("/webhooks/{source}", func(r chi.Router) {
		r.Use(VerifySignature(secrets))
		r.Post("/", func(w http.ResponseWriter, req *http.Request) {
			body, _ := io.ReadAll(req.Body)
			seenBody = string(body)
			w.WriteHeader(http.StatusAccepted)
		})
	})
	return r, &seenBody
}

func TestVerifySignature_Valid(t *testing.T) {
	secrets := map[string]string{"stripe": "super-secret-signing-key"}
	r, seenBody := signatureRouter(secrets)

	body := `{"id":"evt_1","type":"charge.succeeded"}`
	req := httptest.NewRequest("POST", "/webhooks/stripe/", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signBody("super-secret-signing-key", body))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	// Body must survive verification for the handler to parse.
	assert.Equal(t, body, *seenBody)
}

func TestVerifySignature_InvalidSignature(t *testing.T) {
	secrets := map[string]string{"stripe": "super-secret-signing-key"}
	r, _ := signatureRouter(secrets)

	req := httptest.NewRequest("POST", "/webhooks/stripe/", strings.NewReader(`{}`))
	req.Header.Set(SignatureHeader, "deadbeef")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "signature_invalid")
}

func TestVerifySignature_MissingHeader(t *testing.T) {
	secrets := map[string]string{"stripe": "super-secret-signing-key"}
	r, _ := signatureRouter(secrets)

	req := httptest.NewRequest("POST", "/webhooks/stripe/", strings.NewReader(`{}`))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "signature_required")
}

func TestVerifySignature_UnknownSource(t *testing.T) {
	secrets := map[string]string{"stripe": "super-secret-signing-key"}
	r, _ := signatureRouter(secrets)

	body := `{}`
	req := httptest.NewRequest("POST", "/webhooks/unknown/", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signBody("super-secret-signing-key", body))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "unknown_source")
}

func TestVerifySignature_WrongKey(t *testing.T) {
	secrets := map[string]string{"stripe": "super-secret-signing-key"}
	r, _ := signatureRouter(secrets)

	body := `{"id":"evt_1"}`
	req := httptest.NewRequest("POST", "/webhooks/stripe/", strings.NewReader(body))
	req.Header.Set(SignatureHeader, signBody("some-other-key", body))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
