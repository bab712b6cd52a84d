package receiver

import (
	"context"
	"net/http"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hooks/core"
)

// Deduper remembers event ids whose handling succeeded.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// MemoryDeduper keeps event ids for TTL. Suitable for a single receiver
// process.
type MemoryDeduper struct {
	TTL time.Duration
	Now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{TTL: ttl, seen: map[string]time.Time{}}
}

func (d *MemoryDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	now := d.now()
	d.mu.Lock()
	defer d.mu.Unlock()
	expires, ok := d.seen[eventID]
	if !ok {
		return false, nil
	}
	if !now.Before(expires) {
		delete(d.seen, eventID)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDeduper) Remember(_ context.Context, eventID string) error {
	now := d.now()
	ttl := d.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]time.Time{}
	}
	for id, expires := range d.seen {
		if !now.Before(expires) {
			delete(d.seen, id)
		}
	}
	d.seen[eventID] = now.Add(ttl)
	return nil
}

func (d *MemoryDeduper) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

type deliveryContextKey struct{}

// FromContext returns the verified delivery stored by Middleware.
func FromContext(ctx context.Context) (Delivery, bool) {
	delivery, ok := ctx.Value(deliveryContextKey{}).(Delivery)
	return delivery, ok
}

type MiddlewareOption func(*middleware)

// WithDeduper answers replays of an event id that was already handled with
// a 2xx by returning 200 without calling the wrapped handler.
func WithDeduper(deduper Deduper) MiddlewareOption {
	return func(m *middleware) {
		m.deduper = deduper
	}
}

type middleware struct {
	verifier *Verifier
	deduper  Deduper
}

// Middleware rejects requests that fail verification with 401 and exposes
// the verified delivery to next through FromContext.
func Middleware(verifier *Verifier, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	m := &middleware{verifier: verifier}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m.verifier == nil {
				writeError(w, goerrors.New("receiver: verifier is required", goerrors.CategoryInternal).
					WithCode(http.StatusInternalServerError).
					WithTextCode(core.HookErrorInternal))
				return
			}
			delivery, err := m.verifier.VerifyRequest(r)
			if err != nil {
				writeError(w, err)
				return
			}
			if m.deduper != nil && delivery.EventID != "" {
				seen, err := m.deduper.Seen(r.Context(), delivery.EventID)
				if err != nil {
					writeError(w, err)
					return
				}
				if seen {
					w.WriteHeader(http.StatusOK)
					return
				}
			}
			ctx := context.WithValue(r.Context(), deliveryContextKey{}, delivery)
			if m.deduper == nil || delivery.EventID == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))
			if recorder.status >= 200 && recorder.status < 300 {
				_ = m.deduper.Remember(ctx, delivery.EventID)
			}
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}
