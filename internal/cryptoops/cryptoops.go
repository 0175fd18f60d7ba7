/*
Copyright (C) 2024 Hub Identity Core Authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program. If not, see <https://www.gnu.org/licenses/>.
*/

// Package cryptoops implements the CryptoOps trait: platform-specific
// encrypt/decrypt of at-rest strings and integers. The real primitives
// (AES, HMAC-SHA1, MD5, Base64) are out of scope per the specification;
// this package provides the reference AES-CTR implementation that
// PersistentSession, DeviceNameService and the token store build on,
// grounded in the same IV-prefixed CTR scheme the teacher repo uses for
// its OIDC session cookies.
package cryptoops

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
)

// Ops is the CryptoOps trait consumed by PersistentSession, DeviceNameService
// and TokenStore. Implementations must be safe to call from the single UI
// runner goroutine; no concurrency guarantees are required.
type Ops interface {
	// OSEncrypt encrypts plaintext and returns a value safe to persist as a string.
	OSEncrypt(plaintext string) (string, error)
	// OSDecrypt reverses OSEncrypt. An empty input decrypts to an empty string.
	OSDecrypt(ciphertext string) (string, error)
	// OSEncryptI64 encrypts an int64, used for expiry timestamps.
	OSEncryptI64(v int64) (string, error)
	// OSDecryptI64 reverses OSEncryptI64.
	OSDecryptI64(ciphertext string) (int64, error)
}

// AESCTR is the reference CryptoOps implementation: AES in CTR mode with a
// random IV prepended to the ciphertext, the whole thing base64-encoded.
type AESCTR struct {
	block cipher.Block
}

// NewAESCTR builds an AESCTR from a raw AES key (16, 24 or 32 bytes).
func NewAESCTR(key []byte) (*AESCTR, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return &AESCTR{block: block}, nil
}

// OSEncrypt implements Ops.
func (a *AESCTR) OSEncrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	blockSize := a.block.BlockSize()
	buf := make([]byte, blockSize+len(plaintext))

	iv := buf[:blockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}

	stream := cipher.NewCTR(a.block, iv)
	stream.XORKeyStream(buf[blockSize:], []byte(plaintext))

	return base64.StdEncoding.EncodeToString(buf), nil
}

// OSDecrypt implements Ops.
func (a *AESCTR) OSDecrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}

	blockSize := a.block.BlockSize()
	if len(raw) < blockSize {
		return "", fmt.Errorf("ciphertext too short: %d bytes", len(raw))
	}

	iv, encrypted := raw[:blockSize], raw[blockSize:]
	plaintext := make([]byte, len(encrypted))
	stream := cipher.NewCTR(a.block, iv)
	stream.XORKeyStream(plaintext, encrypted)

	return string(plaintext), nil
}

// OSEncryptI64 implements Ops.
func (a *AESCTR) OSEncryptI64(v int64) (string, error) {
	return a.OSEncrypt(strconv.FormatInt(v, 10))
}

// OSDecryptI64 implements Ops.
func (a *AESCTR) OSDecryptI64(ciphertext string) (int64, error) {
	s, err := a.OSDecrypt(ciphertext)
	if err != nil {
		return 0, err
	}
	if s == "" {
		return 0, nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int64: %w", err)
	}
	return v, nil
}
