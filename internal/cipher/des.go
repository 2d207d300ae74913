package cipher

import (
	"bytes"
	"crypto/des"
	"encoding/base64"
	"errors"
	"fmt"
)

// KeySize is the length of a decoded Triple DES key.
const KeySize = 24

var (
	ErrInvalidKey     = errors.New("cipher key must decode to 24 bytes")
	ErrInvalidPadding = errors.New("invalid PKCS#7 padding")
	ErrCiphertextSize = errors.New("ciphertext is not a multiple of the block size")
)

// DecodeKey decodes a base64 key and checks its length.
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(key))
	}
	return key, nil
}

// Encrypt encrypts plain under the base64 key and returns base64 ciphertext.
func Encrypt(plain []byte, encodedKey string) (string, error) {
	key, err := DecodeKey(encodedKey)
	if err != nil {
		return "", err
	}
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return "", err
	}

	bs := block.BlockSize()
	data := pad(plain, bs)
	out := make([]byte, len(data))
	// ECB: every block is encrypted independently.
	for i := 0; i < len(data); i += bs {
		block.Encrypt(out[i:i+bs], data[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encoded string, encodedKey string) ([]byte, error) {
	key, err := DecodeKey(encodedKey)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}

	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return nil, ErrCiphertextSize
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}
	return unpad(out, bs)
}

func pad(data []byte, bs int) []byte {
	n := bs - len(data)%bs
	return append(append(make([]byte, 0, len(data)+n), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, bs int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > bs || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
