package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	redisadapter "github.com/robertarktes/booking-holds/internal/adapters/redis"
)

const Header = "Idempotency-Key"

// Store keeps replayable responses by key.
type Store interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
}

type Idempotency struct {
	store Store
	ttl   time.Duration
	scope func(r *http.Request) string
}

type Option func(*Idempotency)

// WithScope prefixes keys with a per-caller scope so two callers may reuse
// the same key.
func WithScope(fn func(r *http.Request) string) Option {
	return func(i *Idempotency) { i.scope = fn }
}

func NewIdempotency(store Store, ttl time.Duration, opts ...Option) *Idempotency {
	i := &Idempotency{store: store, ttl: ttl}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type recorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *recorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func reject(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}

// Middleware requires an Idempotency-Key on POST requests and replays the
// stored response for a key that has completed. Server errors are not
// stored so the caller may retry with the same key.
func (i *Idempotency) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get(Header)
		if key == "" {
			reject(w, http.StatusBadRequest, "invalid_input", "missing Idempotency-Key")
			return
		}
		if len(key) < 16 || len(key) > 128 {
			reject(w, http.StatusBadRequest, "invalid_input", "invalid Idempotency-Key")
			return
		}
		if i.scope != nil {
			key = i.scope(r) + ":" + key
		}
		ctx := r.Context()

		existing, err := i.store.Get(ctx, key)
		if err != nil {
			reject(w, http.StatusServiceUnavailable, "internal_error", "idempotency store unavailable")
			return
		}
		if existing != nil {
			if existing.ContentType != "" {
				w.Header().Set("Content-Type", existing.ContentType)
			}
			w.Header().Set("Idempotent-Replay", "true")
			w.WriteHeader(existing.Status)
			_, _ = w.Write(existing.Result)
			return
		}
		ok, err := i.store.Reserve(ctx, key, i.ttl)
		if err != nil {
			reject(w, http.StatusServiceUnavailable, "internal_error", "idempotency store unavailable")
			return
		}
		if !ok {
			w.Header().Set("Retry-After", "1")
			reject(w, http.StatusConflict, "concurrent_modification", "a request with this Idempotency-Key is in progress")
			return
		}

		rec := &recorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		// The response has been sent; store it even if the client went away.
		ctx = context.WithoutCancel(ctx)
		if rec.status == 0 || rec.status >= http.StatusInternalServerError {
			_ = i.store.Release(ctx, key)
			return
		}
		_ = i.store.Set(ctx, key, redisadapter.IdempResponse{
			Status:      rec.status,
			ContentType: rec.Header().Get("Content-Type"),
			Result:      rec.body.Bytes(),
		}, i.ttl)
	})
}
