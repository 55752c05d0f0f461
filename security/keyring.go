package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-collab/core"
)

// KeyRotationWindow gates when a key version may still decrypt.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

// MetadataProvider is implemented by providers that stamp a key identity
// on their envelopes.
type MetadataProvider interface {
	core.SecretProvider
	Metadata() (keyID string, version int)
}

type keyRef struct {
	keyID   string
	version int
}

type retiredKey struct {
	provider MetadataProvider
	window   KeyRotationWindow
}

type KeyringOption func(*Keyring)

// WithRetiredKey keeps an older key able to open envelopes it sealed while
// window allows it.
func WithRetiredKey(provider MetadataProvider, window KeyRotationWindow) KeyringOption {
	return func(k *Keyring) {
		if provider == nil {
			return
		}
		keyID, version := provider.Metadata()
		k.retired[keyRef{keyID: strings.TrimSpace(keyID), version: version}] = retiredKey{provider: provider, window: window}
	}
}

func WithKeyringTelemetry(telemetry core.Telemetry) KeyringOption {
	return func(k *Keyring) {
		k.telemetry = telemetry
	}
}

func WithKeyringClock(now func() time.Time) KeyringOption {
	return func(k *Keyring) {
		if now != nil {
			k.now = now
		}
	}
}

// Keyring seals with the active key and opens envelopes of the active key
// or any retired key still inside its rotation window. Persisted tokens
// therefore survive an application key rotation.
type Keyring struct {
	mu        sync.RWMutex
	active    MetadataProvider
	retired   map[keyRef]retiredKey
	telemetry core.Telemetry
	now       func() time.Time
}

func NewKeyring(active MetadataProvider, opts ...KeyringOption) (*Keyring, error) {
	if active == nil {
		return nil, fmt.Errorf("security: active secret provider is required")
	}
	keyring := &Keyring{
		active:  active,
		retired: map[keyRef]retiredKey{},
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(keyring)
		}
	}
	return keyring, nil
}

// Rotate makes next the active key. The previous key is retired with
// window.
func (k *Keyring) Rotate(next MetadataProvider, window KeyRotationWindow) error {
	if next == nil {
		return fmt.Errorf("security: next secret provider is required")
	}
	k.mu.Lock()
	previous := k.active
	k.active = next
	WithRetiredKey(previous, window)(k)
	k.mu.Unlock()

	fromID, fromVersion := previous.Metadata()
	toID, toVersion := next.Metadata()
	k.telemetry.Info(context.Background(), "secret key rotated", map[string]any{
		"from": fmt.Sprintf("%s:%d", fromID, fromVersion),
		"to":   fmt.Sprintf("%s:%d", toID, toVersion),
	})
	return nil
}

func (k *Keyring) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	k.mu.RLock()
	active := k.active
	k.mu.RUnlock()
	return active.Encrypt(ctx, plaintext)
}

func (k *Keyring) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return nil, err
	}
	provider, err := k.providerFor(keyRef{keyID: meta.KeyID, version: meta.Version})
	if err != nil {
		k.telemetry.Warn(ctx, "secret envelope rejected", map[string]any{
			"key_id":  meta.KeyID,
			"version": meta.Version,
			"error":   err.Error(),
		})
		return nil, err
	}
	return provider.Decrypt(ctx, ciphertext)
}

func (k *Keyring) providerFor(ref keyRef) (core.SecretProvider, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	activeID, activeVersion := k.active.Metadata()
	if ref.keyID == strings.TrimSpace(activeID) && ref.version == activeVersion {
		return k.active, nil
	}
	retired, ok := k.retired[ref]
	if !ok {
		return nil, fmt.Errorf("security: unknown key %s:%d", ref.keyID, ref.version)
	}
	if !retired.window.Allows(k.now()) {
		return nil, fmt.Errorf("security: key %s:%d outside its rotation window", ref.keyID, ref.version)
	}
	return retired.provider, nil
}

func (k *Keyring) Metadata() (string, int) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.active.Metadata()
}

var _ MetadataProvider = (*Keyring)(nil)
