package secure

import (
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
)

// ConfirmationMessage is the fixed status message exchanged after a recovery
// hop to prove the secured link works end to end.
const ConfirmationMessage = "Drone communication secured."

// tokenTTL bounds how old a token may be at decrypt time. Round trips happen
// immediately after encryption, so an hour leaves ample slack.
const tokenTTL = time.Hour

// ErrDecryptionFailed is returned when a token fails verification: corrupted
// ciphertext, an expired token or the wrong key.
var ErrDecryptionFailed = errors.New("secure: decryption failed")

// Channel provides symmetric encrypt/decrypt around one ephemeral key. The
// key is generated once per run, held only in memory, and never logged or
// persisted.
type Channel struct {
	key *fernet.Key
}

// NewChannel generates a fresh key.
func NewChannel() (*Channel, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return nil, fmt.Errorf("secure: generating key: %w", err)
	}
	return &Channel{key: &key}, nil
}

// Encrypt seals msg into a signed token.
func (c *Channel) Encrypt(msg string) ([]byte, error) {
	tok, err := fernet.EncryptAndSign([]byte(msg), c.key)
	if err != nil {
		return nil, fmt.Errorf("secure: encrypting message: %w", err)
	}
	return tok, nil
}

// Decrypt opens a token produced by Encrypt. Tampered tokens and tokens
// sealed under another key fail with ErrDecryptionFailed.
func (c *Channel) Decrypt(tok []byte) (string, error) {
	msg := fernet.VerifyAndDecrypt(tok, tokenTTL, []*fernet.Key{c.key})
	if msg == nil {
		return "", ErrDecryptionFailed
	}
	return string(msg), nil
}
