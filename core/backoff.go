package core

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ExponentialJitterBackoff computes min(Base*2^(n-1), Max) plus uniform
// jitter in [0, JitterFraction*delay). Safe for concurrent use.
type ExponentialJitterBackoff struct {
	Base           time.Duration
	Max            time.Duration
	JitterFraction float64

	mu   sync.Mutex
	rand *rand.Rand
}

func NewExponentialJitterBackoff(base, max time.Duration, jitterFraction float64, source rand.Source) *ExponentialJitterBackoff {
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}
	return &ExponentialJitterBackoff{
		Base:           base,
		Max:            max,
		JitterFraction: jitterFraction,
		rand:           rand.New(source),
	}
}

func (b *ExponentialJitterBackoff) Delay(attempt int) time.Duration {
	if b == nil {
		return 0
	}
	delay := b.BaseDelay(attempt)
	return delay + b.jitter(delay)
}

// BaseDelay is the un-jittered curve.
func (b *ExponentialJitterBackoff) BaseDelay(attempt int) time.Duration {
	if b == nil || b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	multiplier := math.Pow(2, float64(attempt-1))
	next := time.Duration(float64(b.Base) * multiplier)
	if next < 0 || multiplier > float64(math.MaxInt64)/float64(b.Base) {
		return b.Max
	}
	if b.Max > 0 && next > b.Max {
		return b.Max
	}
	return next
}

func (b *ExponentialJitterBackoff) jitter(delay time.Duration) time.Duration {
	if b.JitterFraction <= 0 || delay <= 0 {
		return 0
	}
	window := int64(float64(delay) * b.JitterFraction)
	if window <= 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rand == nil {
		b.rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return time.Duration(b.rand.Int63n(window)) //nolint:gosec
}

// truncateString also makes s storable as SQL text: invalid UTF-8 becomes
// U+FFFD and NUL bytes are dropped before the byte limit applies.
func truncateString(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	s = sanitizeText(s)
	if len(s) <= maxBytes {
		return s
	}
	b := []byte(s[:maxBytes])
	for len(b) > 0 && !utf8.Valid(b) {
		b = b[:len(b)-1]
	}
	return string(b)
}

func sanitizeText(s string) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	return strings.ReplaceAll(s, "\x00", "")
}
