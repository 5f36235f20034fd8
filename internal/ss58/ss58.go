// Package ss58 converts raw public keys into SS58 addresses.
//
// The encoding is base58(prefix || pubkey || checksum) where checksum is the
// first two bytes of blake2b-512("SS58PRE" || prefix || pubkey).
package ss58

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

const (
	// PublicKeyLen is the byte length of an sr25519/ed25519 account id.
	PublicKeyLen = 32

	// DefaultFormat is the generic Substrate prefix used by Bittensor.
	DefaultFormat uint16 = 42

	checksumLen = 2
	maxFormat   = 16383
)

var checksumPrefix = []byte("SS58PRE")

// ErrInvalidAddress is matched by every error this package returns.
var ErrInvalidAddress = errors.New("invalid address")

// InvalidAddressError describes input that cannot be encoded.
type InvalidAddressError struct {
	Input  string
	Reason string
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("ss58: invalid address %q: %s", e.Input, e.Reason)
}

func (e *InvalidAddressError) Is(target error) bool { return target == ErrInvalidAddress }

// FromHex encodes a hex public key (optionally 0x-prefixed) with DefaultFormat.
func FromHex(s string) (string, error) {
	return FromHexWithFormat(s, DefaultFormat)
}

// FromHexWithFormat encodes a hex public key with the given network format.
func FromHexWithFormat(s string, format uint16) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	pub, err := hex.DecodeString(raw)
	if err != nil {
		return "", &InvalidAddressError{Input: s, Reason: "not hexadecimal"}
	}
	if len(pub) != PublicKeyLen {
		return "", &InvalidAddressError{
			Input:  s,
			Reason: fmt.Sprintf("decoded to %d bytes, want %d", len(pub), PublicKeyLen),
		}
	}
	return encode(s, pub, format)
}

// Encode returns the SS58 form of a 32-byte public key.
func Encode(pub []byte, format uint16) (string, error) {
	input := hex.EncodeToString(pub)
	if len(pub) != PublicKeyLen {
		return "", &InvalidAddressError{
			Input:  input,
			Reason: fmt.Sprintf("got %d bytes, want %d", len(pub), PublicKeyLen),
		}
	}
	return encode(input, pub, format)
}

func encode(input string, pub []byte, format uint16) (string, error) {
	prefix, err := formatPrefix(format)
	if err != nil {
		return "", &InvalidAddressError{Input: input, Reason: err.Error()}
	}

	body := make([]byte, 0, len(prefix)+len(pub)+checksumLen)
	body = append(body, prefix...)
	body = append(body, pub...)

	pre := make([]byte, 0, len(checksumPrefix)+len(body))
	pre = append(pre, checksumPrefix...)
	pre = append(pre, body...)
	sum := blake2b.Sum512(pre)

	body = append(body, sum[:checksumLen]...)
	return base58.Encode(body), nil
}

// formatPrefix returns the one or two byte SS58 address type prefix.
func formatPrefix(format uint16) ([]byte, error) {
	switch {
	case format == 46 || format == 47:
		return nil, fmt.Errorf("format %d is reserved", format)
	case format > maxFormat:
		return nil, fmt.Errorf("format %d out of range", format)
	case format < 64:
		return []byte{byte(format)}, nil
	default:
		first := byte((format&0b1111_1100)>>2) | 0b0100_0000
		second := byte(format>>8) | byte((format&0b11)<<6)
		return []byte{first, second}, nil
	}
}
