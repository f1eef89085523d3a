package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// envelopePrefix marks an encrypted field value.
const envelopePrefix = "enc:v1:"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.SessionRepository
	config EncryptionConfig
}

// NewEncryptionMiddleware encrypts conversation text at rest with AES-GCM:
// message content and summaries, the topic and the role prompts of the casting.
// Routing state stays readable so stores can be inspected and indexed.
// Values written before encryption was enabled are read back as they are.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.SessionRepository) ports.SessionRepository {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) seal(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	ciphertext, err := encrypt([]byte(plain), m.config.ActiveKey)
	if err != nil {
		return "", err
	}
	return envelopePrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (m *encryptionMiddleware) open(value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, envelopePrefix)
	if !ok {
		return value, nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plain, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func (m *encryptionMiddleware) sealSession(s *domain.Session) (*domain.Session, error) {
	out := s.Clone()
	var err error
	if out.Topic, err = m.seal(s.Topic); err != nil {
		return nil, fmt.Errorf("failed to encrypt session: %w", err)
	}
	for ref, role := range out.Casting {
		if role.Prompt, err = m.seal(role.Prompt); err != nil {
			return nil, fmt.Errorf("failed to encrypt session: %w", err)
		}
		out.Casting[ref] = role
	}
	return out, nil
}

func (m *encryptionMiddleware) openSession(s *domain.Session) (*domain.Session, error) {
	var err error
	if s.Topic, err = m.open(s.Topic); err != nil {
		return nil, fmt.Errorf("failed to decrypt session: %w", err)
	}
	for ref, role := range s.Casting {
		if role.Prompt, err = m.open(role.Prompt); err != nil {
			return nil, fmt.Errorf("failed to decrypt session: %w", err)
		}
		s.Casting[ref] = role
	}
	return s, nil
}

func (m *encryptionMiddleware) Create(ctx context.Context, s *domain.Session) error {
	sealed, err := m.sealSession(s)
	if err != nil {
		return err
	}
	return m.next.Create(ctx, sealed)
}

func (m *encryptionMiddleware) Load(ctx context.Context, id string) (*domain.Session, error) {
	s, err := m.next.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	return m.openSession(s)
}

func (m *encryptionMiddleware) Update(ctx context.Context, s *domain.Session) error {
	sealed, err := m.sealSession(s)
	if err != nil {
		return err
	}
	return m.next.Update(ctx, sealed)
}

func (m *encryptionMiddleware) AppendMessage(ctx context.Context, s *domain.Session, msg *domain.Message) error {
	sealed, err := m.sealSession(s)
	if err != nil {
		return err
	}
	cp := *msg
	if cp.Content, err = m.seal(msg.Content); err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}
	if cp.Summary, err = m.seal(msg.Summary); err != nil {
		return fmt.Errorf("failed to encrypt message: %w", err)
	}
	return m.next.AppendMessage(ctx, sealed, &cp)
}

func (m *encryptionMiddleware) Messages(ctx context.Context, id string) ([]*domain.Message, error) {
	msgs, err := m.next.Messages(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, msg := range msgs {
		if msg.Content, err = m.open(msg.Content); err != nil {
			return nil, fmt.Errorf("failed to decrypt message %s: %w", msg.ID, err)
		}
		if msg.Summary, err = m.open(msg.Summary); err != nil {
			return nil, fmt.Errorf("failed to decrypt message %s: %w", msg.ID, err)
		}
	}
	return msgs, nil
}

func (m *encryptionMiddleware) Delete(ctx context.Context, id string) error {
	return m.next.Delete(ctx, id)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

// Helpers

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
