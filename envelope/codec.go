package envelope

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/mudassirishfaq94/chat-app/types"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize = chacha20poly1305.KeySize

	// TextPlaceholder replaces message text that cannot be decrypted.
	TextPlaceholder = "[Encrypted message]"
	// AttachmentPlaceholder is shown instead of an attachment that cannot be decrypted.
	AttachmentPlaceholder = "Unable to decrypt attachment"
)

var b64 = base64.RawURLEncoding

// Key is a 256-bit symmetric room key. It never leaves the clients of a room except inside an invite link.
type Key [KeySize]byte

// GenerateKey returns a fresh random room key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return k, err
	}
	return k, nil
}

// String encodes the key as unpadded base64url, the form used in invite links and the keyring file.
func (k Key) String() string {
	return b64.EncodeToString(k[:])
}

func ParseKey(s string) (Key, error) {
	var k Key
	raw, err := b64.DecodeString(strings.TrimRight(strings.TrimSpace(s), "="))
	if err != nil {
		return k, types.NewValidationError("parse key", "key is not base64url: %v", err)
	}
	if len(raw) != KeySize {
		return k, types.NewValidationError("parse key", "key has %d bytes, expected %d", len(raw), KeySize)
	}
	copy(k[:], raw)
	return k, nil
}

// IsEnvelope reports whether text carries the envelope tag.
func IsEnvelope(text string) bool {
	return strings.HasPrefix(text, types.EnvelopePrefix)
}

// Seal encrypts plaintext into "e2e1:{nonce}:{ciphertext}" using XChaCha20-Poly1305.
func Seal(key Key, plaintext string) (string, error) {
	nonce, ct, err := seal(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return types.EnvelopePrefix + b64.EncodeToString(nonce) + ":" + b64.EncodeToString(ct), nil
}

// Open decrypts an envelope. Text without the envelope tag is returned unchanged so that plaintext rooms keep
// working.
func Open(key Key, text string) (string, error) {
	const op = "open"
	if !IsEnvelope(text) {
		return text, nil
	}
	parts := strings.SplitN(strings.TrimPrefix(text, types.EnvelopePrefix), ":", 2)
	if len(parts) != 2 {
		return "", types.NewDecryptionError(op, errors.New("malformed envelope"))
	}
	nonce, err := b64.DecodeString(parts[0])
	if err != nil {
		return "", types.NewDecryptionError(op, fmt.Errorf("invalid nonce: %w", err))
	}
	ct, err := b64.DecodeString(parts[1])
	if err != nil {
		return "", types.NewDecryptionError(op, fmt.Errorf("invalid ciphertext: %w", err))
	}
	plain, err := open(key, nonce, ct)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// OpenOrPlaceholder is Open for rendering: any failure, including a missing key, yields TextPlaceholder.
func OpenOrPlaceholder(key *Key, text string) string {
	if !IsEnvelope(text) {
		return text
	}
	if key == nil {
		return TextPlaceholder
	}
	plain, err := Open(*key, text)
	if err != nil {
		return TextPlaceholder
	}
	return plain
}

// SealBytes encrypts attachment bytes. The returned iv is the base64url nonce to be sent along with the attachment
// metadata; the ciphertext goes to the blob store.
func SealBytes(key Key, data []byte) ([]byte, string, error) {
	nonce, ct, err := seal(key, data)
	if err != nil {
		return nil, "", err
	}
	return ct, b64.EncodeToString(nonce), nil
}

func OpenBytes(key Key, ciphertext []byte, iv string) ([]byte, error) {
	nonce, err := b64.DecodeString(iv)
	if err != nil {
		return nil, types.NewDecryptionError("open bytes", fmt.Errorf("invalid iv: %w", err))
	}
	return open(key, nonce, ciphertext)
}

func seal(key Key, plaintext []byte) ([]byte, []byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, plaintext, nil), nil
}

func open(key Key, nonce, ciphertext []byte) ([]byte, error) {
	const op = "open"
	if len(nonce) != chacha20poly1305.NonceSizeX {
		return nil, types.NewDecryptionError(op, fmt.Errorf("nonce has %d bytes, expected %d", len(nonce), chacha20poly1305.NonceSizeX))
	}
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, types.NewDecryptionError(op, err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, types.NewDecryptionError(op, errors.New("wrong key or tampered ciphertext"))
	}
	return plain, nil
}
