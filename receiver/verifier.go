package receiver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-hooks/core"
)

const (
	DefaultTolerance    = 5 * time.Minute
	DefaultMaxBodyBytes = 1 << 20
)

// Delivery is what a verified request carries besides its body.
type Delivery struct {
	ID        string
	EventID   string
	EventType string
	Attempt   int
	Timestamp time.Time
	Body      []byte
}

// Verifier checks requests signed with a webhook's secret. Secret is the
// value returned once at webhook creation.
type Verifier struct {
	Secret       string
	Tolerance    time.Duration
	MaxBodyBytes int64
	Now          func() time.Time
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{Secret: secret, Tolerance: DefaultTolerance}
}

// VerifyRequest reads and verifies r. The body is restored on r so later
// handlers can read it again.
func (v *Verifier) VerifyRequest(r *http.Request) (Delivery, error) {
	if r == nil || r.Body == nil {
		return Delivery{}, receiverError(nil, "request body is required", TextCodeSignatureInvalid, nil)
	}
	limit := v.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return Delivery{}, receiverError(err, "read request body", TextCodeSignatureInvalid, nil)
	}
	if int64(len(body)) > limit {
		return Delivery{}, receiverError(nil, "request body too large", TextCodeSignatureInvalid, map[string]any{
			"limit": limit,
		})
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	return v.Verify(r.Header, body)
}

func (v *Verifier) Verify(headers http.Header, body []byte) (Delivery, error) {
	secret := strings.TrimSpace(v.Secret)
	if secret == "" {
		return Delivery{}, goerrors.New("receiver: signing secret is required", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.HookErrorInternal)
	}

	rawTimestamp := headers.Get(core.HeaderTimestamp)
	signature := headers.Get(core.HeaderSignature)
	for header, value := range map[string]string{
		core.HeaderTimestamp: rawTimestamp,
		core.HeaderSignature: signature,
	} {
		if strings.TrimSpace(value) == "" {
			return Delivery{}, receiverError(nil, fmt.Sprintf("%s header is required", header), TextCodeMissingHeader, map[string]any{
				"header": header,
			})
		}
	}
	timestamp, err := core.ParseTimestampHeader(rawTimestamp)
	if err != nil {
		return Delivery{}, receiverError(err, "invalid signature timestamp", TextCodeSignatureInvalid, nil)
	}

	tolerance := v.Tolerance
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if tolerance > 0 {
		skew := now().Sub(timestamp).Abs()
		if skew > tolerance {
			return Delivery{}, receiverError(nil, "signature timestamp outside tolerance", TextCodeSignatureStale, map[string]any{
				"skew_seconds": int64(skew / time.Second),
			})
		}
	}
	// the window was checked above so Verify only compares the digest
	if err := core.Verify([]byte(secret), timestamp, body, signature, 0, timestamp); err != nil {
		return Delivery{}, receiverError(err, "signature verification failed", TextCodeSignatureInvalid, nil)
	}

	attempt, _ := strconv.Atoi(strings.TrimSpace(headers.Get(core.HeaderAttempt)))
	return Delivery{
		ID:        strings.TrimSpace(headers.Get(core.HeaderDelivery)),
		EventID:   strings.TrimSpace(headers.Get(core.HeaderEventID)),
		EventType: strings.TrimSpace(headers.Get(core.HeaderEvent)),
		Attempt:   attempt,
		Timestamp: timestamp,
		Body:      body,
	}, nil
}

func writeError(w http.ResponseWriter, err error) {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.Wrap(err, goerrors.CategoryInternal, "receiver failure").
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.HookErrorInternal)
	}
	status := rich.Code
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(rich.ToErrorResponse(false, nil))
}
