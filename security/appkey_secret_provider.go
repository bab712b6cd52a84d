package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/goliatone/go-hooks/core"
)

type Option func(*AppKeySecretProvider)

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
}

// AppKeySecretProvider seals webhook signing secrets with AES-GCM under an
// application key. Retired keys stay available for decryption so secrets
// written before a rotation keep signing.
type AppKeySecretProvider struct {
	primary appKey
	retired map[string]appKey
	err     error
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.primary.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.primary.version = version
		}
	}
}

// WithRetiredKey registers a decrypt-only key.
func WithRetiredKey(id string, version int, keyMaterial []byte) Option {
	return func(provider *AppKeySecretProvider) {
		aead, err := newAEAD(keyMaterial)
		if err != nil {
			provider.err = fmt.Errorf("security: retired key %s/%d: %w", id, version, err)
			return
		}
		key := appKey{id: strings.TrimSpace(id), version: version, aead: aead}
		provider.retired[keyRef(key.id, key.version)] = key
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}
	provider := &AppKeySecretProvider{
		primary: appKey{id: "app-key", version: 1, aead: aead},
		retired: map[string]appKey{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.err != nil {
		return nil, provider.err
	}
	if _, clash := provider.retired[keyRef(provider.primary.id, provider.primary.version)]; clash {
		return nil, fmt.Errorf("security: retired key shadows primary key %s", keyRef(provider.primary.id, provider.primary.version))
	}
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}

	nonce := make([]byte, p.primary.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := p.primary.aead.Seal(nil, nonce, plaintext, associatedData(p.primary))
	return encodeEnvelope(envelope{
		KeyID:      p.primary.id,
		Version:    p.primary.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	env, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, ok := p.keyFor(env.KeyID, env.Version)
	if !ok {
		return nil, fmt.Errorf("security: unknown key %s", keyRef(env.KeyID, env.Version))
	}
	nonce, sealed, err := env.parts()
	if err != nil {
		return nil, err
	}
	plaintext, err := key.aead.Open(nil, nonce, sealed, associatedData(key))
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// NeedsRotation reports whether ciphertext was sealed under a key other than
// the primary one.
func (p *AppKeySecretProvider) NeedsRotation(ciphertext []byte) (bool, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false, err
	}
	return meta.KeyID != p.primary.id || meta.Version != p.primary.version, nil
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.primary.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.primary.version
}

func (p *AppKeySecretProvider) keyFor(id string, version int) (appKey, bool) {
	if id == p.primary.id && version == p.primary.version {
		return p.primary, true
	}
	key, ok := p.retired[keyRef(id, version)]
	return key, ok
}

func newAEAD(keyMaterial []byte) (cipher.AEAD, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return aead, nil
}

func associatedData(key appKey) []byte {
	return []byte(keyRef(key.id, key.version))
}

func keyRef(id string, version int) string {
	return id + "/" + strconv.Itoa(version)
}

func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
