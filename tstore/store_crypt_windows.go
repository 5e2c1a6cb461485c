//go:build windows

package tstore

import "github.com/billgraziano/dpapi"

func encryptValue(plain []byte) ([]byte, error) {
	return dpapi.EncryptBytes(plain)
}

func decryptValue(sealed []byte) ([]byte, error) {
	return dpapi.DecryptBytes(sealed)
}
