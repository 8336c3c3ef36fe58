package client

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/udmitri/mtgo/internal/crypto"
)

// LoadServerKeys reads the trusted server RSA public keys from a PEM
// file. The file may hold several blocks; at least one key is required.
func LoadServerKeys(path string) ([]*crypto.ServerKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server keys %s: %w", path, err)
	}

	var keys []*crypto.ServerKey
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "RSA PUBLIC KEY" {
			continue
		}
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsing server key %s: %w", path, err)
		}
		keys = append(keys, crypto.NewServerKey(pub.N, int64(pub.E)))
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no RSA public keys in %s", path)
	}
	return keys, nil
}
