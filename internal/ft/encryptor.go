package ft

import "io"

// Encryptor protects archived files before they leave the device.
// Encryption uses the public key only, so the agent can archive unattended.
// Unarchiving needs the private key, unlocked once per agent session.
type Encryptor interface {
	// Setup performs one-time key generation during `ftrack config init`.
	// The private key is stored encrypted with passphrase.
	Setup(passphrase string) error

	// Encrypt encrypts data read from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a DecryptionContext.
	// Returns an error if the passphrase is incorrect.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured returns true if both key files exist at configured paths.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key in memory. The unlocked
// key is never written to disk.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
