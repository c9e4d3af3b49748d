package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inbox/internal/auth"
	"github.com/inbox/internal/logger"
)

type credentials struct {
	SessionID string `json:"session_id"`
	Timestamp string `json:"timestamp"`
	Signature string `json:"signature"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Body      string `json:"body"`
}

// Header first, query second: browsers cannot set headers on a websocket upgrade.
func param(r *http.Request, header, query string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	return r.URL.Query().Get(query)
}

func unauthorized(w http.ResponseWriter) {
	http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
}

// RemoteAuth asks the auth service at authServiceURL to validate the signed
// session headers (X-Session-Id, X-Timestamp, X-Signature) and puts the
// returned user id on the request context.
func RemoteAuth(authServiceURL string, client *http.Client) func(http.Handler) http.Handler {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := credentials{
				SessionID: param(r, "X-Session-Id", "session_id"),
				Timestamp: param(r, "X-Timestamp", "timestamp"),
				Signature: param(r, "X-Signature", "signature"),
				Method:    r.Method,
				Path:      r.URL.Path,
			}
			if c.SessionID == "" || c.Timestamp == "" || c.Signature == "" {
				unauthorized(w)
				return
			}
			if r.Body != nil {
				body, err := io.ReadAll(r.Body)
				if err != nil {
					http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
				// Multipart requests are signed with an empty body.
				if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
					c.Body = string(body)
				}
			}
			payload, _ := json.Marshal(c)
			req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, authServiceURL+"/internal/validate", bytes.NewReader(payload))
			if err != nil {
				http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
				return
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := client.Do(req)
			if err != nil {
				logger.Errorf("auth validate session_id=%s: %v", MaskSessionID(c.SessionID), err)
				unauthorized(w)
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				unauthorized(w)
				return
			}
			var result struct {
				UserID string `json:"user_id"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&result); err != nil || result.UserID == "" {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), result.UserID)))
		})
	}
}

// HeaderAuth trusts X-User-Id (or ?user_id=) as the caller's identity. It is
// meant for -dev and for deployments behind a gateway that sets the header.
func HeaderAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(param(r, "X-User-Id", "user_id"))
		if userID == "" {
			unauthorized(w)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}
