// Package encryption manages the age key pair used for at-rest blob encryption.
package encryption

import (
	"fmt"
	"io"

	"datec-go/internal/config"
)

// Keyring encrypts to a stored public key and unlocks the matching private key.
type Keyring interface {
	// Setup generates a new key pair protected by passphrase.
	Setup(passphrase string) error

	// IsConfigured reports whether a key pair exists.
	IsConfigured() bool

	// Encrypt returns a writer that encrypts everything written to it into w.
	// Close must be called to flush the final chunk.
	Encrypt(w io.Writer) (io.WriteCloser, error)

	// Unlock decrypts the private key.
	Unlock(passphrase string) (Identity, error)
}

// Identity is an unlocked private key.
type Identity interface {
	// Decrypt returns a reader of the plaintext of r.
	Decrypt(r io.Reader) (io.Reader, error)
}

// NewKeyringFromConfig creates a Keyring based on the configuration type.
func NewKeyringFromConfig(cfg config.EncryptionConfig) (Keyring, error) {
	switch cfg.Type {
	case "age", "":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeKeyring(cfg.PublicKeyPath, cfg.PrivateKeyPath), nil
	case "test":
		return NewTestKeyring(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
