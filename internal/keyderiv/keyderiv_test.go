package keyderiv

import (
	"crypto/ecdh"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Known-answer keys: private scalars 0x0102..20 and 0x2122..40.
const (
	kaPubX     = "515c3d6eb9e396b904d3feca7f54fdcd0cc1e997bf375dca515ad0a6c3b4035f"
	kaPubY     = "4536be3a50f318fbf9a5475902a221502bef0d57e08c53b2cc0a56f17d9f9354"
	kbPubX     = "1f140146bfb1b251f84f4ddbe0d4cdcfd77afd984a9520e35794021f8312bb9e"
	kbPubY     = "ec995a08b1fa7704df3dcc0b50a9665263fb7711f95f9f8a449c5096e47c892b"
	kabSecret  = "4fe243908f378aa1c2a69538822e6ed908c3225d8692575507c649901245150a"
	kabDerived = "e39f3aa2a5322ed8c2569757c992450"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func fixedKeyPair(t *testing.T, first byte) *KeyPair {
	t.Helper()
	scalar := make([]byte, 32)
	for i := range scalar {
		scalar[i] = first + byte(i)
	}
	priv, err := ecdh.P256().NewPrivateKey(scalar)
	require.NoError(t, err)
	kp, err := KeyPairFromPrivate(priv)
	require.NoError(t, err)
	return kp
}

func TestStrideExtract(t *testing.T) {
	t.Run("reference vector", func(t *testing.T) {
		src := strings.Repeat("0123456789abcdef", 4)
		got := StrideExtract(src)
		assert.Equal(t, "2569ade12569ade12569ade12569ade", got)
		assert.Len(t, got, 31)
	})

	t.Run("same input gives same output", func(t *testing.T) {
		src := "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
		first := StrideExtract(src)
		assert.Equal(t, first, StrideExtract(src))
		assert.Equal(t, "123456789abcdef0123456789abcdef", first)
	})

	t.Run("short inputs", func(t *testing.T) {
		assert.Equal(t, "", StrideExtract(""))
		assert.Equal(t, "", StrideExtract("ab"))
		assert.Equal(t, "c", StrideExtract("abc"))
		assert.Equal(t, "cf", StrideExtract("abcdef"))
		assert.Equal(t, "cfg", StrideExtract("abcdefg"))
	})
}

func TestKeyPair_Coordinates(t *testing.T) {
	kp := fixedKeyPair(t, 0x01)
	assert.Equal(t, kaPubX, hex.EncodeToString(kp.X()))
	assert.Equal(t, kaPubY, hex.EncodeToString(kp.Y()))
	assert.Len(t, kp.X(), CoordinateSize)
	assert.Len(t, kp.Y(), CoordinateSize)
}

func TestKeyPair_SharedSecretKnownAnswer(t *testing.T) {
	a := fixedKeyPair(t, 0x01)
	b := fixedKeyPair(t, 0x21)
	assert.Equal(t, kbPubX, hex.EncodeToString(b.X()))
	assert.Equal(t, kbPubY, hex.EncodeToString(b.Y()))

	secret, err := a.SharedSecret(b.X(), b.Y())
	require.NoError(t, err)
	assert.Equal(t, kabSecret, hex.EncodeToString(secret))

	key, err := a.DeriveKey(mustHex(t, kbPubX), mustHex(t, kbPubY))
	require.NoError(t, err)
	assert.Equal(t, kabDerived, key)

	reverse, err := b.DeriveKey(a.X(), a.Y())
	require.NoError(t, err)
	assert.Equal(t, key, reverse, "both sides MUST derive the same key")
}

func TestKeyPair_EphemeralAgreement(t *testing.T) {
	a, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)
	b, err := GenerateKeyPair(rand.Reader)
	require.NoError(t, err)

	ka, err := a.DeriveKey(b.X(), b.Y())
	require.NoError(t, err)
	kb, err := b.DeriveKey(a.X(), a.Y())
	require.NoError(t, err)

	assert.Equal(t, ka, kb)
	assert.Len(t, ka, 31)
}

func TestPeerPublicKey(t *testing.T) {
	t.Run("rejects empty coordinate", func(t *testing.T) {
		_, err := PeerPublicKey(nil, mustHex(t, kbPubY))
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	})

	t.Run("rejects oversized coordinate", func(t *testing.T) {
		_, err := PeerPublicKey(make([]byte, 33), mustHex(t, kbPubY))
		assert.ErrorIs(t, err, ErrInvalidCoordinate)
	})

	t.Run("rejects point off the curve", func(t *testing.T) {
		y := mustHex(t, kbPubY)
		y[31] ^= 0x01
		_, err := PeerPublicKey(mustHex(t, kbPubX), y)
		assert.ErrorIs(t, err, ErrInvalidPublicKey)
	})

	t.Run("28-byte coordinates are left padded", func(t *testing.T) {
		// truncating a real coordinate produces a different integer, so the point is rejected
		x := mustHex(t, kbPubX)[4:]
		y := mustHex(t, kbPubY)[4:]
		_, err := PeerPublicKey(x, y)
		assert.ErrorIs(t, err, ErrInvalidPublicKey)
	})
}

func TestKeyPairFromPrivate_RejectsOtherCurves(t *testing.T) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	require.NoError(t, err)
	_, err = KeyPairFromPrivate(priv)
	assert.Error(t, err)

	_, err = KeyPairFromPrivate(nil)
	assert.Error(t, err)
}
