package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/caretree/pkg/domain"
	"github.com/aretw0/caretree/pkg/ports"
)

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables key rotation without draining the queue first.
	FallbackKeys [][]byte
}

// DecodeKey parses a base64 encoded AES-256 key.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (AES-256), got %d", len(key))
	}
	return key, nil
}

type encryptionMiddleware struct {
	next   ports.OfflineQueue
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals queued sessions with
// AES-GCM. The envelope keeps the local ID and timestamps in clear so the queue can
// still order, replace and remove items; responses, operator and version are sealed.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.OfflineQueue) ports.OfflineQueue {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Enqueue(ctx context.Context, item domain.OfflineSession) error {
	if item.LocalID == "" {
		return domain.Invalid("localId", "is required")
	}
	plainText, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queued session: %w", err)
	}

	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt queued session: %w", err)
	}

	envelope := domain.OfflineSession{
		LocalID:          item.LocalID,
		OfflineCreatedAt: item.OfflineCreatedAt,
		OfflineSavedAt:   item.OfflineSavedAt,
		Sealed:           ciphertext,
	}
	return m.next.Enqueue(ctx, envelope)
}

func (m *encryptionMiddleware) Snapshot(ctx context.Context) ([]domain.OfflineSession, error) {
	envelopes, err := m.next.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]domain.OfflineSession, 0, len(envelopes))
	for _, envelope := range envelopes {
		if len(envelope.Sealed) == 0 {
			// Fail secure: a configured queue only ever holds sealed items.
			return nil, fmt.Errorf("queued session %s is missing its sealed envelope", envelope.LocalID)
		}
		plainText, err := decryptWithRotation(envelope.Sealed, m.config.ActiveKey, m.config.FallbackKeys)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt queued session %s: %w", envelope.LocalID, err)
		}
		var item domain.OfflineSession
		if err := json.Unmarshal(plainText, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queued session %s: %w", envelope.LocalID, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (m *encryptionMiddleware) Remove(ctx context.Context, localIDs ...string) error {
	return m.next.Remove(ctx, localIDs...)
}

func (m *encryptionMiddleware) Len(ctx context.Context) (int, error) {
	return m.next.Len(ctx)
}

func (m *encryptionMiddleware) Close() error {
	return m.next.Close()
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
