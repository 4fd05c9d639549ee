// Package objects defines the credential types used to authenticate a
// WMI session.
//
// # Credential
//
// Credential wraps a username and an encrypted password:
//
//	cred, err := objects.NewCredential(`CONTOSO\admin`, []byte("secret"))
//	if err != nil {
//		return err
//	}
//	defer cred.Clear()
//
// # SecureString
//
// SecureString keeps the password encrypted in memory and only hands out
// plaintext on request:
//
//	ss, err := objects.NewSecureString("secret")
//	if err != nil {
//		return err
//	}
//	defer ss.Clear() // Clear from memory when done
//
// # AuthIdentity
//
// AuthIdentity is the split user/domain/password triple passed to the
// DCOM proxy blanket. The username may be written as domain\user or
// user@domain.
package objects

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// IdentityUnicode marks an AuthIdentity whose strings are UTF-16.
const IdentityUnicode uint32 = 0x2

// Credential represents a username and password for a remote resource.
type Credential struct {
	UserName string
	Password *SecureString
}

// NewCredential creates a Credential, encrypting secret. The caller keeps
// ownership of secret and may clear it afterwards.
func NewCredential(userName string, secret []byte) (*Credential, error) {
	var password *SecureString
	if secret != nil {
		ss, err := NewSecureStringFromBytes(secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt password: %w", err)
		}
		password = ss
	}
	return &Credential{
		UserName: userName,
		Password: password,
	}, nil
}

// Clear securely clears the credential from memory.
func (c *Credential) Clear() {
	if c.Password != nil {
		c.Password.Clear()
	}
}

// Secret returns the decrypted password, or nil when none is set.
// The caller should clear the returned slice when done.
func (c *Credential) Secret() ([]byte, error) {
	if c.Password == nil {
		return nil, nil
	}
	return c.Password.Decrypt()
}

// Identity builds the authentication identity for the credential.
func (c *Credential) Identity() (*AuthIdentity, error) {
	secret, err := c.Secret()
	if err != nil {
		return nil, fmt.Errorf("decrypt password: %w", err)
	}
	domain, user := SplitUserName(c.UserName)
	return &AuthIdentity{
		User:     user,
		Domain:   domain,
		Password: secret,
		Flags:    IdentityUnicode,
	}, nil
}

// SplitUserName separates the domain from a username written as
// domain\user or user@domain. The domain is empty when neither form is used.
func SplitUserName(name string) (domain, user string) {
	if i := strings.IndexByte(name, '\\'); i >= 0 {
		return name[:i], name[i+1:]
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		return name[i+1:], name[:i]
	}
	return "", name
}

// AuthIdentity is the user/domain/password triple handed to the protocol
// library when setting a proxy's security blanket.
type AuthIdentity struct {
	User     string
	Domain   string
	Password []byte
	Flags    uint32
}

// Clear zeroes the password.
func (a *AuthIdentity) Clear() {
	for i := range a.Password {
		a.Password[i] = 0
	}
	a.Password = nil
}

// SecureString represents an encrypted string for sensitive data.
type SecureString struct {
	encrypted []byte
	key       []byte
}

// NewSecureString creates a SecureString from plaintext.
// Returns an error if cryptographic operations fail.
func NewSecureString(plaintext string) (*SecureString, error) {
	return NewSecureStringFromBytes([]byte(plaintext))
}

// NewSecureStringFromBytes creates a SecureString from a plaintext buffer.
func NewSecureStringFromBytes(plaintext []byte) (*SecureString, error) {
	ss := &SecureString{}
	ss.key = make([]byte, 32)

	if _, err := io.ReadFull(rand.Reader, ss.key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	gcm, err := newGCM(ss.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ss.encrypted = gcm.Seal(nonce, nonce, plaintext, nil)
	return ss, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Decrypt returns the plaintext value.
// The caller should clear the returned slice when done.
func (s *SecureString) Decrypt() ([]byte, error) {
	if len(s.encrypted) == 0 {
		return nil, nil
	}

	gcm, err := newGCM(s.key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(s.encrypted) < nonceSize {
		return nil, io.ErrUnexpectedEOF
	}

	nonce, ciphertext := s.encrypted[:nonceSize], s.encrypted[nonceSize:]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, err
	}
	if plain == nil {
		plain = []byte{}
	}
	return plain, nil
}

// Clear securely clears the SecureString from memory.
func (s *SecureString) Clear() {
	for i := range s.encrypted {
		s.encrypted[i] = 0
	}
	for i := range s.key {
		s.key[i] = 0
	}
	s.encrypted = nil
}
