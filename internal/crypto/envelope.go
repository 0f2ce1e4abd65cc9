package crypto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Magic marks a sealed config file. The trailing byte is the format version.
var Magic = []byte("FREEDISK\x01")

const (
	headerSize = 9 + 4 // magic + iterations
	// maxIters bounds the work an untrusted header can ask for.
	maxIters = 10_000_000
)

// IsSealed reports whether data starts with the envelope magic
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, Magic)
}

// Seal encrypts plaintext under a key derived from password with a fresh
// salt and nonce. Layout:
//
//	magic[9] | iterations uint32 BE | salt[32] | nonce[12] | ciphertext | tag[16]
//
// The header and salt are authenticated as additional data.
func Seal(password, plaintext []byte) ([]byte, error) {
	kdf, err := NewKDF()
	if err != nil {
		return nil, err
	}

	key := kdf.DeriveKey(password)
	enc := NewEncryptor(key)
	defer enc.Destroy()

	header := make([]byte, 0, headerSize+SaltSize)
	header = append(header, Magic...)
	header = binary.BigEndian.AppendUint32(header, uint32(kdf.Iterations))
	header = append(header, kdf.Salt...)

	body, err := enc.Encrypt(plaintext, header)
	if err != nil {
		return nil, err
	}

	return append(header, body...), nil
}

// Open reverses Seal. A wrong password or tampered data yields ErrAuthFailed.
func Open(password, sealed []byte) ([]byte, error) {
	if !IsSealed(sealed) || len(sealed) < headerSize+SaltSize+NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}

	iters := binary.BigEndian.Uint32(sealed[len(Magic):headerSize])
	if iters == 0 || iters > maxIters {
		return nil, fmt.Errorf("%w: bad iteration count %d", ErrInvalidCiphertext, iters)
	}

	header := sealed[:headerSize+SaltSize]
	kdf := &KDF{
		Salt:       header[headerSize:],
		Iterations: int(iters),
	}

	enc := NewEncryptor(kdf.DeriveKey(password))
	defer enc.Destroy()

	return enc.Decrypt(sealed[len(header):], header)
}
