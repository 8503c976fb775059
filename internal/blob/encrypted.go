package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"datec-go/internal/datec"
)

// ErrLocked is returned when reading from an EncryptedStore that has no
// unlocked identity.
var ErrLocked = errors.New("blob store is locked: no decryption identity")

// Encrypter wraps a writer so that bytes written are encrypted.
type Encrypter interface {
	Encrypt(w io.Writer) (io.WriteCloser, error)
}

// Decrypter unwraps an encrypted stream.
type Decrypter interface {
	Decrypt(r io.Reader) (io.Reader, error)
}

// EncryptedStore encrypts content before handing it to the inner store.
// Metadata is stored in the clear and Size stays the plaintext size.
// Writes only need the public key; reads need an unlocked Decrypter.
type EncryptedStore struct {
	inner datec.BlobStore
	enc   Encrypter
	dec   Decrypter
}

// NewEncryptedStore wraps inner. dec may be nil, in which case Get fails with
// ErrLocked.
func NewEncryptedStore(inner datec.BlobStore, enc Encrypter, dec Decrypter) *EncryptedStore {
	return &EncryptedStore{inner: inner, enc: enc, dec: dec}
}

func (s *EncryptedStore) Put(ctx context.Context, id string, r io.Reader, meta datec.BlobMeta) error {
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		err := s.encryptTo(pw, r)
		pw.CloseWithError(err)
		done <- err
	}()

	err := s.inner.Put(ctx, id, pr, meta)
	// Unblocks the encrypting goroutine if the inner store stopped reading early.
	pr.CloseWithError(io.ErrClosedPipe)
	encErr := <-done

	if err != nil {
		return err
	}
	if encErr != nil {
		return fmt.Errorf("encrypting blob: %w", encErr)
	}
	return nil
}

func (s *EncryptedStore) encryptTo(w io.Writer, r io.Reader) error {
	ew, err := s.enc.Encrypt(w)
	if err != nil {
		return err
	}
	if _, err := io.Copy(ew, r); err != nil {
		ew.Close()
		return err
	}
	return ew.Close()
}

func (s *EncryptedStore) Get(ctx context.Context, id string, w io.Writer) (*datec.BlobMeta, error) {
	if s.dec == nil {
		return nil, ErrLocked
	}

	pr, pw := io.Pipe()
	var meta *datec.BlobMeta
	done := make(chan error, 1)
	go func() {
		m, err := s.inner.Get(ctx, id, pw)
		meta = m
		pw.CloseWithError(err)
		done <- err
	}()

	copyErr := s.decryptTo(w, pr)
	pr.CloseWithError(io.ErrClosedPipe)
	getErr := <-done

	switch {
	case errors.Is(getErr, datec.ErrBlobNotFound):
		return nil, getErr
	case copyErr != nil:
		return nil, fmt.Errorf("decrypting blob %s: %w", id, copyErr)
	case getErr != nil:
		return nil, getErr
	}
	return meta, nil
}

func (s *EncryptedStore) decryptTo(w io.Writer, r io.Reader) error {
	plain, err := s.dec.Decrypt(r)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, plain)
	return err
}

func (s *EncryptedStore) Stat(ctx context.Context, id string) (*datec.BlobMeta, error) {
	return s.inner.Stat(ctx, id)
}

func (s *EncryptedStore) Delete(ctx context.Context, id string) error {
	return s.inner.Delete(ctx, id)
}

var _ datec.BlobStore = (*EncryptedStore)(nil)
