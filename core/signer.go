package core

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderTimestamp  = "X-Hook-Timestamp"
	HeaderSignature  = "X-Hook-Signature"
	HeaderEvent      = "X-Hook-Event"
	HeaderDelivery   = "X-Hook-Delivery"
	HeaderEventID    = "X-Hook-Event-Id"
	HeaderAttempt    = "X-Hook-Attempt"
	DefaultUserAgent = "go-hooks/1"

	SignatureVersion = "v1"
)

type Signer interface {
	Sign(secret []byte, timestamp time.Time, body []byte) (string, error)
}

// HMACSigner produces v1=<hex(HMAC-SHA256(secret, "<unix>." + body))>.
type HMACSigner struct{}

func (HMACSigner) Sign(secret []byte, timestamp time.Time, body []byte) (string, error) {
	return Sign(secret, timestamp, body)
}

func Sign(secret []byte, timestamp time.Time, body []byte) (string, error) {
	if len(secret) == 0 {
		return "", ErrSecretRequired
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return SignatureVersion + "=" + hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks a signature produced by Sign. A non-positive tolerance
// disables the timestamp window check.
func Verify(
	secret []byte,
	timestamp time.Time,
	body []byte,
	signature string,
	tolerance time.Duration,
	now time.Time,
) error {
	if tolerance > 0 {
		skew := now.Sub(timestamp)
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return fmt.Errorf("core: signature timestamp outside tolerance")
		}
	}
	expected, err := Sign(secret, timestamp, body)
	if err != nil {
		return err
	}
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature))) {
		return fmt.Errorf("core: signature mismatch")
	}
	return nil
}

func ParseTimestampHeader(raw string) (time.Time, error) {
	seconds, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || seconds <= 0 {
		return time.Time{}, fmt.Errorf("core: invalid signature timestamp %q", raw)
	}
	return time.Unix(seconds, 0).UTC(), nil
}

func deliveryHeaders(delivery Delivery, attempt int, timestamp time.Time, signature string) http.Header {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", DefaultUserAgent)
	headers.Set(HeaderTimestamp, strconv.FormatInt(timestamp.Unix(), 10))
	headers.Set(HeaderSignature, signature)
	headers.Set(HeaderEvent, delivery.EventType)
	headers.Set(HeaderDelivery, delivery.ID)
	headers.Set(HeaderEventID, delivery.EventID)
	headers.Set(HeaderAttempt, strconv.Itoa(attempt))
	return headers
}
