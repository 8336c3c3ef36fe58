package crypto

import (
	"crypto/aes"
	"fmt"

	"github.com/gotd/ige"
)

// IGEEncrypt encrypts data with AES-256 in IGE mode.
// key must be 32 bytes, iv 32 bytes, data a multiple of the AES block size.
func IGEEncrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ige encrypt: data length %d is not a multiple of %d", len(data), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ige encrypt: %w", err)
	}
	out := make([]byte, len(data))
	ige.NewIGEEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

// IGEDecrypt decrypts data with AES-256 in IGE mode.
func IGEDecrypt(key, iv, data []byte) ([]byte, error) {
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ige decrypt: data length %d is not a multiple of %d", len(data), aes.BlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ige decrypt: %w", err)
	}
	out := make([]byte, len(data))
	ige.NewIGEDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}
