package store

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"github.com/pkg/errors"
)

// Location URLs can be encrypted at rest with AES-128-CBC. The envelope
// is URL-safe base64 over IV||ciphertext, where the plaintext is the URL,
// a NUL separator, then random padding up to the block boundary. The NUL
// makes the payload/padding split unambiguous after decryption; URLs
// never contain NUL bytes.
type locationCrypt struct {
	key []byte
}

func newLocationCrypt(key []byte) (*locationCrypt, error) {
	if len(key) != 16 {
		return nil, errors.Errorf("store: metadata encryption key must be 16 bytes, got %d", len(key))
	}
	return &locationCrypt{key: key}, nil
}

func (c *locationCrypt) encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	padLen := aes.BlockSize - (len(plain)+1)%aes.BlockSize
	if padLen == aes.BlockSize {
		padLen = 0
	}
	buf := make([]byte, aes.BlockSize+len(plain)+1+padLen)
	iv := buf[:aes.BlockSize]
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	payload := buf[aes.BlockSize:]
	copy(payload, plain)
	payload[len(plain)] = 0
	pad := payload[len(plain)+1:]
	if _, err := rand.Read(pad); err != nil {
		return "", err
	}
	// Random padding must not contain the separator.
	for i := range pad {
		if pad[i] == 0 {
			pad[i] = 1
		}
	}
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(payload, payload)
	return base64.URLEncoding.EncodeToString(buf), nil
}

// decrypt returns the stored string unchanged when it does not look like
// an encrypted envelope, so plaintext rows written before encryption was
// enabled (or under a rotated-away key) still resolve.
func (c *locationCrypt) decrypt(stored string) string {
	raw, err := base64.URLEncoding.DecodeString(stored)
	if err != nil {
		return stored
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return stored
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return stored
	}
	iv, payload := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(payload))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, payload)
	sep := bytes.IndexByte(plain, 0)
	if sep < 0 {
		return stored
	}
	return string(plain[:sep])
}
