// Package keygen generates replica signing keys for both supported crypto
// backends (ECDSA multi-sig and BLS12-381 aggregate signatures) and reads
// and writes ECDSA private keys as PEM files (BLS keys have no file
// helpers here), mirroring the corpus's crypto/keygen package
// (keygen.GenerateECDSAPrivateKey, referenced directly by the twins test
// harness when minting per-node identities).
package keygen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	blst "github.com/kilic/bls12-381"
)

// GenerateECDSAPrivateKey returns a fresh P-256 private key, used by the
// ECDSA multi-sig crypto backend.
func GenerateECDSAPrivateKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// WriteECDSAPrivateKeyFile PEM-encodes key and writes it to path with
// owner-only permissions, matching the corpus's convention of PEM-encoded
// on-disk replica keys.
func WriteECDSAPrivateKeyFile(path string, key *ecdsa.PrivateKey) error {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("keygen: marshal private key: %w", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

// ReadECDSAPrivateKeyFile reads and decodes a PEM-encoded EC private key.
func ReadECDSAPrivateKeyFile(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keygen: read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("keygen: no PEM block in %s", path)
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// GenerateBLSPrivateKey returns a fresh BLS12-381 scalar private key,
// encoded as its canonical 32-byte big-endian representation, used by the
// BLS aggregate-signature crypto backend.
func GenerateBLSPrivateKey() ([]byte, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, fmt.Errorf("keygen: read random scalar: %w", err)
	}
	// Reduce modulo the group order so every byte string is a valid
	// scalar; fr.FromBytes in kilic/bls12-381 does this for us, we only
	// need to round-trip through it once to normalize.
	fr := blst.NewFr().FromBytes(buf[:])
	return fr.ToBytes(), nil
}

// BLSPublicKeyFromPrivate derives the compressed G1 public key
// corresponding to a BLS private scalar.
func BLSPublicKeyFromPrivate(priv []byte) []byte {
	fr := blst.NewFr().FromBytes(priv)
	g1 := blst.NewG1()
	pub := g1.New()
	g1.MulScalar(pub, g1.One(), fr)
	return g1.ToCompressed(pub)
}
