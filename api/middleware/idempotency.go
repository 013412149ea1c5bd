package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/comercio-backoffice/api/responses"
	pkgerrors "github.com/angelmondragon/comercio-backoffice/pkg/errors"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	pkgredis "github.com/angelmondragon/comercio-backoffice/pkg/redis"
)

const (
	IdempotencyHeader       = "Idempotency-Key"
	IdempotencyReplayHeader = "Idempotent-Replayed"
	defaultIdempotencyTTL   = 24 * time.Hour
	inFlightClaimTTL        = time.Minute
	maxIdempotencyKeyLen    = 128
	maxIdempotentBodyBytes  = 64 << 10
)

// idempotencyEntry is the value stored under a key. Status is zero while the
// first request is still running.
type idempotencyEntry struct {
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        string `json:"body,omitempty"`
}

// Idempotency guards lifecycle writes against client retries. The first request
// under a key claims it, a retry with the same body replays the stored 2xx
// response, and a retry arriving while the first is running gets a conflict.
// Non-2xx outcomes release the claim so the request can be corrected.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key, hash, err := claimKey(w, r, store)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			claim, _ := json.Marshal(idempotencyEntry{RequestHash: hash})
			won, err := store.SetNX(ctx, key, string(claim), inFlightClaimTTL)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key"))
				return
			}
			if !won {
				if err := replay(ctx, w, store, key, hash); err != nil {
					responses.WriteError(ctx, logg, w, err)
				}
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.statusCode()
			if status < 200 || status >= 300 {
				if err := store.Del(ctx, key); err != nil {
					logError(ctx, logg, "release idempotency key", err)
				}
				return
			}
			entry, _ := json.Marshal(idempotencyEntry{
				RequestHash: hash,
				Status:      status,
				ContentType: rec.Header().Get("Content-Type"),
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
			})
			if err := store.Set(ctx, key, string(entry), ttl); err != nil {
				logError(ctx, logg, "persist idempotency entry", err)
			}
		})
	}
}

// claimKey validates the header, buffers the body for the handler and returns
// the store key together with the body hash.
func claimKey(w http.ResponseWriter, r *http.Request, store pkgredis.IdempotencyStore) (string, string, error) {
	id := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	switch {
	case id == "":
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	case len(id) > maxIdempotencyKeyLen:
		return "", "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long")
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxIdempotentBodyBytes))
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	sum := sha256.Sum256(body)
	scope := strings.Join([]string{
		TenantIDFromContext(r.Context()),
		UserIDFromContext(r.Context()),
		r.Method,
		r.URL.Path,
	}, "|")
	return store.IdempotencyKey(scope, id), base64.StdEncoding.EncodeToString(sum[:]), nil
}

func replay(ctx context.Context, w http.ResponseWriter, store pkgredis.IdempotencyStore, key, hash string) error {
	stored, err := store.Get(ctx, key)
	if err != nil && !errors.Is(err, redis.Nil) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency key")
	}

	var entry idempotencyEntry
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &entry); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency entry")
		}
	}
	switch {
	case stored != "" && entry.RequestHash != hash:
		return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
	case entry.Status == 0:
		return pkgerrors.New(pkgerrors.CodeConflict, "a request with this Idempotency-Key is still in progress")
	}

	body, err := base64.StdEncoding.DecodeString(entry.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency body")
	}
	if entry.ContentType != "" {
		w.Header().Set("Content-Type", entry.ContentType)
	}
	w.Header().Set(IdempotencyReplayHeader, "true")
	w.WriteHeader(entry.Status)
	_, _ = w.Write(body)
	return nil
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
