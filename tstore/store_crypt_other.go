//go:build !windows

package tstore

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

// sealKey is compiled in. It keeps secrets out of plain text on disk and
// nothing more.
var sealKey = [32]byte{
	0x41, 0xd2, 0x6e, 0x93, 0x0b, 0xf7, 0x58, 0xc4,
	0x1a, 0x8d, 0x37, 0xe0, 0x62, 0xb9, 0x05, 0x7f,
	0xcc, 0x24, 0x9a, 0x53, 0xe8, 0x16, 0x7b, 0xa1,
	0x3d, 0x60, 0xf5, 0x2e, 0x89, 0xb4, 0x0c, 0xd7,
}

var errSealedTooShort = errors.New("sealed value too short")

// encryptValue returns nonce || secretbox(plain).
func encryptValue(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &sealKey), nil
}

func decryptValue(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errSealedTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &sealKey)
	if !ok {
		return nil, errors.New("decrypt failed")
	}
	return plain, nil
}
