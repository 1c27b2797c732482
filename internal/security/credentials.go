// Package security seals the license API credentials at rest.
//
// A sealed file holds api_key and api_secret encrypted with
// AES-256-GCM under a key derived from an operator passphrase via
// scrypt. The daemon opens the file at startup when both
// credentials_file and BRV_LICENSE_PASSPHRASE are set; licensectl
// seal-credentials produces it.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/scrypt"
)

// Scrypt parameters per OWASP ASVS; key length sized for AES-256.
const (
	scryptN      = 32768
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32

	nonceSize = 12
	tagSize   = 16
	saltSize  = 32

	integrityDomain = "BRV-CREDENTIALS-V1"
)

// ErrPassphraseRequired is returned when a sealed file is configured
// but no passphrase was provided.
var ErrPassphraseRequired = errors.New("security: passphrase required to open sealed credentials")

// Credentials is the plaintext content of a sealed file.
type Credentials struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// EncryptedPayload is the on-disk envelope. encoding/json base64s the
// byte fields, so the file stays a readable JSON document.
type EncryptedPayload struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"auth_tag"`
	Integrity  []byte `json:"integrity"`
	Timestamp  int64  `json:"timestamp"`
}

// Seal encrypts credentials under the passphrase.
func Seal(creds Credentials, passphrase string) (*EncryptedPayload, error) {
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	if creds.APIKey == "" || creds.APISecret == "" {
		return nil, errors.New("security: api_key and api_secret are both required")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("security: encode credentials: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("security: generate salt: %w", err)
	}

	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("security: generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	zero(plaintext)

	// GCM appends the tag; store it separately so the envelope is explicit.
	ciphertext := sealed[:len(sealed)-tagSize]
	authTag := sealed[len(sealed)-tagSize:]

	return &EncryptedPayload{
		Version:    1,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: ciphertext,
		AuthTag:    authTag,
		Integrity:  integrityHash(ciphertext, salt, nonce),
		Timestamp:  time.Now().Unix(),
	}, nil
}

// Open decrypts a sealed payload with the passphrase.
func Open(payload *EncryptedPayload, passphrase string) (Credentials, error) {
	if payload == nil {
		return Credentials{}, errors.New("security: payload is nil")
	}
	if passphrase == "" {
		return Credentials{}, ErrPassphraseRequired
	}
	if payload.Version != 1 {
		return Credentials{}, fmt.Errorf("security: unsupported sealed payload version %d", payload.Version)
	}
	if len(payload.Nonce) != nonceSize || len(payload.AuthTag) != tagSize {
		return Credentials{}, errors.New("security: malformed sealed payload")
	}

	expected := integrityHash(payload.Ciphertext, payload.Salt, payload.Nonce)
	if subtle.ConstantTimeCompare(payload.Integrity, expected) != 1 {
		return Credentials{}, errors.New("security: integrity check failed, sealed file was modified")
	}

	key, err := deriveKey(passphrase, payload.Salt)
	if err != nil {
		return Credentials{}, err
	}
	defer zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return Credentials{}, err
	}

	sealed := make([]byte, 0, len(payload.Ciphertext)+tagSize)
	sealed = append(sealed, payload.Ciphertext...)
	sealed = append(sealed, payload.AuthTag...)

	plaintext, err := gcm.Open(nil, payload.Nonce, sealed, nil)
	if err != nil {
		return Credentials{}, errors.New("security: decryption failed, wrong passphrase or corrupted file")
	}
	defer zero(plaintext)

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return Credentials{}, fmt.Errorf("security: decode credentials: %w", err)
	}
	return creds, nil
}

// SealToFile seals credentials and writes the envelope as JSON with
// owner-only permissions. The write goes through a temp file in the
// same directory so a crash never leaves a half-written envelope.
func SealToFile(path string, creds Credentials, passphrase string) error {
	payload, err := Seal(creds, passphrase)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("security: encode sealed payload: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("security: create credentials directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("security: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("security: write sealed payload: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("security: set file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("security: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("security: install sealed file: %w", err)
	}
	return nil
}

// OpenFromFile reads and decrypts a sealed credentials file.
func OpenFromFile(path, passphrase string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, fmt.Errorf("security: read sealed file: %w", err)
	}

	var payload EncryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Credentials{}, fmt.Errorf("security: parse sealed file: %w", err)
	}
	return Open(&payload, passphrase)
}

func deriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("security: key derivation failed: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create GCM: %w", err)
	}
	return gcm, nil
}

func integrityHash(ciphertext, salt, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte(integrityDomain))
	h.Write(ciphertext)
	h.Write(salt)
	h.Write(nonce)
	return h.Sum(nil)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
