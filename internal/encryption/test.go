package encryption

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"ftrack/internal/ft"
)

// fakeMagic marks output of the fake encryptor so archives differ from their
// plaintext while staying trivially reversible.
var fakeMagic = []byte("FTENC\x00\x00\x01")

// TestEncryptor is a deterministic stand-in for AgeEncryptor. Once Setup has
// been called, Unlock rejects any other passphrase with ErrWrongPassphrase.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
}

var _ ft.Encryptor = (*TestEncryptor)(nil)

func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = passphrase
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(fakeMagic); err != nil {
		return fmt.Errorf("writing archive header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("encrypting data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (ft.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return &TestDecryptionContext{}, nil
}

// IsConfigured is always true so callers need no key setup.
func (e *TestEncryptor) IsConfigured() bool {
	return true
}

// TestDecryptionContext reverses TestEncryptor.
type TestDecryptionContext struct{}

var _ ft.DecryptionContext = (*TestDecryptionContext)(nil)

func (c *TestDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(fakeMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading archive header: %w", err)
	}
	if !bytes.Equal(header, fakeMagic) {
		return fmt.Errorf("not a test archive")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("decrypting data: %w", err)
	}
	return nil
}
