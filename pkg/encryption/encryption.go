package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"math/big"

	"golang.org/x/crypto/pbkdf2"
)

// Field format constants. Changing any of these invalidates data already at rest,
// so a change must come with a new CurrentVersion.
const (
	CurrentVersion = 1

	KeyLength     = 32 // AES-256
	IVLength      = 16
	AuthTagLength = 16
	SaltLength    = 64
	KDFIterations = 100000
)

const randomStringAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// EncryptedField is the at-rest representation of an encrypted value.
// Binary parts are hex encoded.
type EncryptedField struct {
	Ciphertext string `json:"ciphertext" db:"ciphertext"`
	IV         string `json:"iv" db:"iv"`
	AuthTag    string `json:"auth_tag" db:"auth_tag"`
	Salt       string `json:"salt" db:"salt"`
	Version    int    `json:"version" db:"version"`
}

// EncryptionError is returned when a value cannot be encrypted
type EncryptionError struct {
	Reason string
	Err    error
}

func (e *EncryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encryption failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("encryption failed: %s", e.Reason)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError is returned when a value cannot be decrypted or its tag does not verify
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decryption failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Service encrypts sensitive fields, hashes identifiers and signs tickets.
// It holds no per-call state and is safe for concurrent use.
type Service struct {
	masterSecret []byte
}

// NewService creates an encryption service bound to the master secret
func NewService(masterSecret string) *Service {
	return &Service{masterSecret: []byte(masterSecret)}
}

// Encrypt derives a fresh key from a random salt and seals plaintext with AES-256-GCM
func (s *Service) Encrypt(plaintext string) (*EncryptedField, error) {
	if len(s.masterSecret) == 0 {
		return nil, &EncryptionError{Reason: "master secret is not configured"}
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, &EncryptionError{Reason: "failed to generate salt", Err: err}
	}
	iv := make([]byte, IVLength)
	if _, err := rand.Read(iv); err != nil {
		return nil, &EncryptionError{Reason: "failed to generate iv", Err: err}
	}

	gcm, err := s.newGCM(salt)
	if err != nil {
		return nil, &EncryptionError{Reason: "failed to initialise cipher", Err: err}
	}

	// Seal appends the tag to the ciphertext; split it out so both travel separately
	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext := sealed[:len(sealed)-AuthTagLength]
	tag := sealed[len(sealed)-AuthTagLength:]

	return &EncryptedField{
		Ciphertext: hex.EncodeToString(ciphertext),
		IV:         hex.EncodeToString(iv),
		AuthTag:    hex.EncodeToString(tag),
		Salt:       hex.EncodeToString(salt),
		Version:    CurrentVersion,
	}, nil
}

// Decrypt re-derives the key from the stored salt and opens the field.
// Any tampering or a wrong master secret yields a DecryptionError.
func (s *Service) Decrypt(field *EncryptedField) (string, error) {
	if field == nil {
		return "", &DecryptionError{Reason: "no encrypted value"}
	}
	if len(s.masterSecret) == 0 {
		return "", &DecryptionError{Reason: "master secret is not configured"}
	}
	if field.Version != CurrentVersion {
		return "", &DecryptionError{Reason: fmt.Sprintf("unsupported format version %d", field.Version)}
	}

	ciphertext, err := hex.DecodeString(field.Ciphertext)
	if err != nil {
		return "", &DecryptionError{Reason: "malformed ciphertext", Err: err}
	}
	iv, err := hex.DecodeString(field.IV)
	if err != nil || len(iv) != IVLength {
		return "", &DecryptionError{Reason: "malformed iv", Err: err}
	}
	tag, err := hex.DecodeString(field.AuthTag)
	if err != nil || len(tag) != AuthTagLength {
		return "", &DecryptionError{Reason: "malformed auth tag", Err: err}
	}
	salt, err := hex.DecodeString(field.Salt)
	if err != nil || len(salt) != SaltLength {
		return "", &DecryptionError{Reason: "malformed salt", Err: err}
	}

	gcm, err := s.newGCM(salt)
	if err != nil {
		return "", &DecryptionError{Reason: "failed to initialise cipher", Err: err}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication tag mismatch", Err: err}
	}
	return string(plaintext), nil
}

// lookupHashLabel separates the lookup-hash key from the ticket signing key
const lookupHashLabel = "lookup-hash:v1"

// Hash returns a keyed HMAC-SHA256 digest of data, hex encoded. The result is stable
// for equality lookups but cannot be reversed with a dictionary without the master secret.
func (s *Service) Hash(data string) string {
	keyMac := hmac.New(sha256.New, s.masterSecret)
	keyMac.Write([]byte(lookupHashLabel))

	mac := hmac.New(sha256.New, keyMac.Sum(nil))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// GenerateToken returns length random bytes, hex encoded
func (s *Service) GenerateToken(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("token length must be positive")
	}
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateRandomString returns a random alphanumeric string of the given length
func (s *Service) GenerateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("string length must be positive")
	}
	max := big.NewInt(int64(len(randomStringAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate random index: %w", err)
		}
		out[i] = randomStringAlphabet[n.Int64()]
	}
	return string(out), nil
}

func (s *Service) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(s.masterSecret, salt, KDFIterations, KeyLength, sha512.New)
}

func (s *Service) newGCM(salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVLength)
}
