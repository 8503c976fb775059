package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"filippo.io/age"
)

// AgeKeyring stores an X25519 key pair on disk. The public key is plaintext;
// the private key is wrapped with age's scrypt passphrase encryption.
type AgeKeyring struct {
	publicKeyPath  string
	privateKeyPath string

	mu        sync.Mutex
	recipient age.Recipient
}

var _ Keyring = (*AgeKeyring)(nil)

func NewAgeKeyring(publicKeyPath, privateKeyPath string) *AgeKeyring {
	return &AgeKeyring{publicKeyPath: publicKeyPath, privateKeyPath: privateKeyPath}
}

// Setup refuses to replace an existing key pair, since blobs encrypted to the
// old key would become unreadable.
func (k *AgeKeyring) Setup(passphrase string) error {
	if passphrase == "" {
		return errors.New("passphrase must not be empty")
	}
	if k.IsConfigured() {
		return fmt.Errorf("key pair already exists at %s", k.publicKeyPath)
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	for _, path := range []string{k.publicKeyPath, k.privateKeyPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}

	var wrapped bytes.Buffer
	scrypt, err := age.NewScryptRecipient(passphrase)
	if err != nil {
		return fmt.Errorf("creating scrypt recipient: %w", err)
	}
	w, err := age.Encrypt(&wrapped, scrypt)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, identity.String()+"\n"); err != nil {
		return fmt.Errorf("writing encrypted private key: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted private key: %w", err)
	}

	if err := os.WriteFile(k.privateKeyPath, wrapped.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(k.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func (k *AgeKeyring) IsConfigured() bool {
	for _, path := range []string{k.publicKeyPath, k.privateKeyPath} {
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

func (k *AgeKeyring) Encrypt(w io.Writer) (io.WriteCloser, error) {
	recipient, err := k.loadRecipient()
	if err != nil {
		return nil, err
	}
	ew, err := age.Encrypt(w, recipient)
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	return ew, nil
}

func (k *AgeKeyring) Unlock(passphrase string) (Identity, error) {
	wrapped, err := os.ReadFile(k.privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}

	scrypt, err := age.NewScryptIdentity(passphrase)
	if err != nil {
		return nil, fmt.Errorf("creating scrypt identity: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(wrapped), scrypt)
	if err != nil {
		return nil, fmt.Errorf("decrypting private key: %w", err)
	}

	identities, err := age.ParseIdentities(r)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	if len(identities) == 0 {
		return nil, errors.New("no identities found in private key")
	}
	return &AgeIdentity{identity: identities[0]}, nil
}

// loadRecipient parses the public key once and caches it.
func (k *AgeKeyring) loadRecipient() (age.Recipient, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.recipient != nil {
		return k.recipient, nil
	}

	data, err := os.ReadFile(k.publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading public key: %w", err)
	}
	recipients, err := age.ParseRecipients(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	if len(recipients) == 0 {
		return nil, errors.New("no recipients found in public key file")
	}
	k.recipient = recipients[0]
	return k.recipient, nil
}

// AgeIdentity is an unlocked age private key.
type AgeIdentity struct {
	identity age.Identity
}

var _ Identity = (*AgeIdentity)(nil)

func (i *AgeIdentity) Decrypt(r io.Reader) (io.Reader, error) {
	dr, err := age.Decrypt(r, i.identity)
	if err != nil {
		return nil, fmt.Errorf("opening encrypted stream: %w", err)
	}
	return dr, nil
}
