package encryption

import (
	"bytes"
	"fmt"
	"io"
)

// testHeader marks output of TestKeyring so tests can tell ciphertext from
// plaintext without real crypto.
var testHeader = []byte("DATECENC")

// TestKeyring prefixes a fixed header on encryption and strips it on
// decryption. For tests only.
type TestKeyring struct {
	setupCalled bool
}

var _ Keyring = (*TestKeyring)(nil)

func NewTestKeyring() *TestKeyring {
	return &TestKeyring{}
}

func (k *TestKeyring) Setup(passphrase string) error {
	k.setupCalled = true
	return nil
}

func (k *TestKeyring) IsConfigured() bool { return true }

func (k *TestKeyring) Encrypt(w io.Writer) (io.WriteCloser, error) {
	if _, err := w.Write(testHeader); err != nil {
		return nil, fmt.Errorf("writing test header: %w", err)
	}
	return nopWriteCloser{w}, nil
}

func (k *TestKeyring) Unlock(passphrase string) (Identity, error) {
	return TestIdentity{}, nil
}

// TestIdentity strips the header added by TestKeyring.
type TestIdentity struct{}

func (TestIdentity) Decrypt(r io.Reader) (io.Reader, error) {
	header := make([]byte, len(testHeader))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading test header: %w", err)
	}
	if !bytes.Equal(header, testHeader) {
		return nil, fmt.Errorf("invalid test encryption header")
	}
	return r, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
