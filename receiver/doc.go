// Package receiver holds the consumer side of a hooks delivery: signature
// verification of the X-Hook-* headers and replay suppression keyed by the
// event id sent with every attempt.
package receiver
