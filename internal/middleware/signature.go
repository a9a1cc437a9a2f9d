package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const SignatureHeader = "X-Webhook-Signature"

// maxWebhookBody caps webhook payloads at 1 MiB.
const maxWebhookBody = 1 << 20

// VerifySignature authenticates webhook deliveries with an HMAC-SHA256 of the
// raw body, keyed per source. A missing or wrong signature is rejected before
// the event ever reaches the ledger; signature failures are not retryable by
// definition, the sender has to fix its key and redeliver.
func VerifySignature(secrets map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := chi.URLParam(r, "source")
			secret, ok := secrets[source]
			if !ok {
				writeSignatureError(w, http.StatusNotFound, "unknown event source", "unknown_source")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
			if err != nil {
				writeSignatureError(w, http.StatusBadRequest, "failed to read request body", "bad_body")
				return
			}
			if len(body) > maxWebhookBody {
				writeSignatureError(w, http.StatusRequestEntityTooLarge, "request body too large", "body_too_large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			provided := r.Header.Get(SignatureHeader)
			if provided == "" {
				writeSignatureError(w, http.StatusUnauthorized, "missing signature header", "signature_required")
				return
			}

			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			expected := hex.EncodeToString(mac.Sum(nil))

			if !hmac.Equal([]byte(expected), []byte(provided)) {
				writeSignatureError(w, http.StatusUnauthorized, "invalid signature", "signature_invalid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeSignatureError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
		"code":  code,
	})
}
