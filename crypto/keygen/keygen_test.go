package keygen_test

import (
	"crypto/elliptic"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkey0/HotShot/crypto/keygen"
)

func TestGenerateECDSAPrivateKeyUsesP256(t *testing.T) {
	key, err := keygen.GenerateECDSAPrivateKey()
	require.NoError(t, err)
	assert.Equal(t, elliptic.P256(), key.Curve)
}

func TestGenerateECDSAPrivateKeyProducesDistinctKeys(t *testing.T) {
	a, err := keygen.GenerateECDSAPrivateKey()
	require.NoError(t, err)
	b, err := keygen.GenerateECDSAPrivateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a.D, b.D)
}

func TestWriteAndReadECDSAPrivateKeyFileRoundTrip(t *testing.T) {
	key, err := keygen.GenerateECDSAPrivateKey()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "replica.pem")
	require.NoError(t, keygen.WriteECDSAPrivateKeyFile(path, key))

	got, err := keygen.ReadECDSAPrivateKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, key.D, got.D)
	assert.Equal(t, key.X, got.X)
	assert.Equal(t, key.Y, got.Y)
}

func TestReadECDSAPrivateKeyFileMissingPath(t *testing.T) {
	_, err := keygen.ReadECDSAPrivateKeyFile(filepath.Join(t.TempDir(), "does-not-exist.pem"))
	assert.Error(t, err)
}

func TestReadECDSAPrivateKeyFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a pem file"), 0o600))

	_, err := keygen.ReadECDSAPrivateKeyFile(path)
	assert.Error(t, err)
}

func TestGenerateBLSPrivateKeyProducesDistinctKeys(t *testing.T) {
	a, err := keygen.GenerateBLSPrivateKey()
	require.NoError(t, err)
	b, err := keygen.GenerateBLSPrivateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 32)
}

func TestBLSPublicKeyFromPrivateIsDeterministic(t *testing.T) {
	priv, err := keygen.GenerateBLSPrivateKey()
	require.NoError(t, err)

	pub1 := keygen.BLSPublicKeyFromPrivate(priv)
	pub2 := keygen.BLSPublicKeyFromPrivate(priv)
	assert.Equal(t, pub1, pub2)
	assert.NotEmpty(t, pub1)
}

func TestBLSPublicKeyFromPrivateDiffersAcrossKeys(t *testing.T) {
	privA, err := keygen.GenerateBLSPrivateKey()
	require.NoError(t, err)
	privB, err := keygen.GenerateBLSPrivateKey()
	require.NoError(t, err)

	assert.NotEqual(t, keygen.BLSPublicKeyFromPrivate(privA), keygen.BLSPublicKeyFromPrivate(privB))
}

