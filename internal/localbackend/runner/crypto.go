//go:build linux

package runner

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// decryptPassword decrypts an AES-CBC-encrypted, base64-encoded password
// using key and the base64-encoded initializationVector. Both
// encryptedPassword and initializationVector must be present for this to
// be called at all, per the resolved Open Question in SPEC_FULL.md §9.1:
// decrypt iff both fields are present, not the inverted condition the
// original exhibits.
func decryptPassword(encryptedB64, ivB64 string, key []byte) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("no secure cookie key configured")
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encryptedB64)
	if err != nil {
		return "", fmt.Errorf("decoding encrypted password: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil {
		return "", fmt.Errorf("decoding initialization vector: %w", err)
	}
	if len(iv) < 8 {
		return "", fmt.Errorf("initialization vector too short: %d bytes", len(iv))
	}

	block, err := aes.NewCipher(normalizeKeyLen(key))
	if err != nil {
		return "", fmt.Errorf("constructing cipher: %w", err)
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return "", fmt.Errorf("ciphertext is not a multiple of the block size")
	}
	if len(iv) < block.BlockSize() {
		return "", fmt.Errorf("initialization vector shorter than block size")
	}

	mode := cipher.NewCBCDecrypter(block, iv[:block.BlockSize()])
	plaintext := make([]byte, len(ciphertext))
	mode.CryptBlocks(plaintext, ciphertext)

	return string(pkcs7Unpad(plaintext)), nil
}

// normalizeKeyLen truncates key to a valid AES key length (16/24/32
// bytes), preferring 32 (AES-256); a key shorter than 16 bytes is
// zero-padded on the right to 16.
func normalizeKeyLen(key []byte) []byte {
	sizes := []int{32, 24, 16}
	for _, size := range sizes {
		if len(key) >= size {
			return key[:size]
		}
	}
	padded := make([]byte, 16)
	copy(padded, key)
	return padded
}

func pkcs7Unpad(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	pad := int(data[len(data)-1])
	if pad <= 0 || pad > len(data) {
		return data
	}
	return data[:len(data)-pad]
}
