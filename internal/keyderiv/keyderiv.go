// Package keyderiv computes the session key material shared with the sensor.
//
// The sensor and client run ECDH over NIST P-256 with ephemeral keys. The raw shared
// secret is hex encoded and then thinned by a fixed stride extraction; there is no
// KDF, salt or domain separation underneath it.
package keyderiv

import (
	"crypto/ecdh"
	"errors"
	"fmt"
	"io"

	"github.com/srg/cgmlink/internal/codec"
)

// CoordinateSize is the width of a P-256 affine coordinate.
const CoordinateSize = 32

// StrideStart is the hex-character offset at which extraction begins.
const StrideStart = 2

var (
	// ErrInvalidCoordinate is returned when a peer coordinate is empty or wider than CoordinateSize.
	ErrInvalidCoordinate = errors.New("invalid public key coordinate")
	// ErrInvalidPublicKey is returned when the peer coordinates are not a point on the curve.
	ErrInvalidPublicKey = errors.New("invalid peer public key")
)

// KeyPair is a local ephemeral P-256 key pair.
type KeyPair struct {
	private *ecdh.PrivateKey
	x       []byte
	y       []byte
}

// GenerateKeyPair creates a fresh ephemeral key pair using rand as the entropy source.
func GenerateKeyPair(rand io.Reader) (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return newKeyPair(priv), nil
}

// KeyPairFromPrivate wraps an existing P-256 private key.
func KeyPairFromPrivate(priv *ecdh.PrivateKey) (*KeyPair, error) {
	if priv == nil || priv.Curve() != ecdh.P256() {
		return nil, fmt.Errorf("private key is not a P-256 key")
	}
	return newKeyPair(priv), nil
}

func newKeyPair(priv *ecdh.PrivateKey) *KeyPair {
	// uncompressed encoding: 0x04 || X || Y
	pub := priv.PublicKey().Bytes()
	return &KeyPair{
		private: priv,
		x:       append([]byte(nil), pub[1:1+CoordinateSize]...),
		y:       append([]byte(nil), pub[1+CoordinateSize:]...),
	}
}

// X returns the 32-byte big-endian X coordinate of the public key.
func (k *KeyPair) X() []byte { return k.x }

// Y returns the 32-byte big-endian Y coordinate of the public key.
func (k *KeyPair) Y() []byte { return k.y }

// SharedSecret runs ECDH against the peer point (x, y). Coordinates narrower than
// CoordinateSize are left-padded with zeros, matching big-endian integer semantics.
func (k *KeyPair) SharedSecret(x, y []byte) ([]byte, error) {
	pub, err := PeerPublicKey(x, y)
	if err != nil {
		return nil, err
	}
	secret, err := k.private.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("ecdh failed: %w", err)
	}
	return secret, nil
}

// DeriveKey computes the shared secret with the peer and applies StrideExtract to its hex form.
func (k *KeyPair) DeriveKey(x, y []byte) (string, error) {
	secret, err := k.SharedSecret(x, y)
	if err != nil {
		return "", err
	}
	return StrideExtract(codec.BytesToHex(secret)), nil
}

// PeerPublicKey builds a P-256 public key from raw affine coordinates.
func PeerPublicKey(x, y []byte) (*ecdh.PublicKey, error) {
	px, err := padCoordinate(x)
	if err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	py, err := padCoordinate(y)
	if err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}

	raw := make([]byte, 0, 1+2*CoordinateSize)
	raw = append(raw, 0x04)
	raw = append(raw, px...)
	raw = append(raw, py...)

	pub, err := ecdh.P256().NewPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return pub, nil
}

func padCoordinate(c []byte) ([]byte, error) {
	if len(c) == 0 || len(c) > CoordinateSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidCoordinate, len(c))
	}
	out := make([]byte, CoordinateSize)
	copy(out[CoordinateSize-len(c):], c)
	return out, nil
}

// StrideExtract thins a hex string: starting at StrideStart it takes one character,
// then advances by 3 and 1 positions alternately until the input is exhausted.
// A 64-character input yields 31 characters.
func StrideExtract(src string) string {
	out := make([]byte, 0, len(src)/2)
	long := true
	for i := StrideStart; i < len(src); {
		out = append(out, src[i])
		if long {
			i += 3
		} else {
			i++
		}
		long = !long
	}
	return string(out)
}
