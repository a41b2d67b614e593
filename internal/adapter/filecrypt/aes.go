// Package filecrypt decrypts files that renderers downloaded in encrypted
// form, using keys they hand over.
package filecrypt

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"deskbridge/internal/domain"
)

const (
	macPrefix = 0x01
	ivSize    = aes.BlockSize
	macSize   = sha256.Size
)

// Facade implements domain.CryptoFacade. Decrypted files are written to
// outDir.
type Facade struct {
	outDir string
	logger *slog.Logger
}

// New creates a facade writing into outDir.
func New(outDir string, logger *slog.Logger) *Facade {
	return &Facade{outDir: outDir, logger: logger}
}

// AesDecryptFile decrypts the file at path with the base64 key and returns
// the path of the plaintext copy.
func (f *Facade) AesDecryptFile(_ context.Context, keyB64, path string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return "", fmt.Errorf("%w: key is not base64: %w", domain.ErrInvalidInput, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read encrypted file: %w", err)
	}
	plain, err := Decrypt(key, data)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.outDir, 0o700); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out := filepath.Join(f.outDir, filepath.Base(path))
	if err := os.WriteFile(out, plain, 0o600); err != nil {
		return "", fmt.Errorf("write decrypted file: %w", err)
	}
	f.logger.Debug("file decrypted", "src", path, "dst", out)
	return out, nil
}

// Decrypt reverses Encrypt. Data starting with 0x01 and long enough to hold
// a MAC is authenticated first; otherwise it is [iv][ciphertext] under the
// raw key.
func Decrypt(key, data []byte) ([]byte, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 128 or 256 bit, got %d bytes", domain.ErrInvalidInput, len(key))
	}
	cKey := key
	if len(data) > 1+macSize && len(data)%aes.BlockSize == 1 && data[0] == macPrefix {
		var mKey []byte
		cKey, mKey = subKeys(key)
		body, tag := data[1:len(data)-macSize], data[len(data)-macSize:]
		mac := hmac.New(sha256.New, mKey)
		mac.Write(body)
		if !hmac.Equal(mac.Sum(nil), tag) {
			return nil, fmt.Errorf("%w: invalid mac", domain.ErrDecryption)
		}
		data = body
	}
	if len(data) < ivSize+aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext has invalid length %d", domain.ErrDecryption, len(data))
	}

	block, err := aes.NewCipher(cKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDecryption, err)
	}
	iv, ct := data[:ivSize], data[ivSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)
	return unpad(plain)
}

// Encrypt encrypts plain under key with the given iv and, when withMAC is
// set, appends an HMAC-SHA256 over iv and ciphertext.
func Encrypt(key, iv, plain []byte, withMAC bool) ([]byte, error) {
	if len(iv) != ivSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes", domain.ErrInvalidInput, ivSize)
	}
	cKey, mKey := key, []byte(nil)
	if withMAC {
		cKey, mKey = subKeys(key)
	}
	block, err := aes.NewCipher(cKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEncryption, err)
	}
	padded := pad(plain)
	out := make([]byte, ivSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[ivSize:], padded)
	if !withMAC {
		return out, nil
	}
	mac := hmac.New(sha256.New, mKey)
	mac.Write(out)
	return append(append([]byte{macPrefix}, out...), mac.Sum(nil)...), nil
}

// subKeys splits a hash of key into a cipher key and a MAC key of the same
// length as key.
func subKeys(key []byte) (cKey, mKey []byte) {
	if len(key) == 32 {
		sum := sha512.Sum512(key)
		return sum[:32], sum[32:]
	}
	sum := sha256.Sum256(key)
	return sum[:16], sum[16:]
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	out := make([]byte, len(b)+n)
	copy(out, b)
	for i := len(b); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", domain.ErrDecryption)
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, fmt.Errorf("%w: invalid padding", domain.ErrDecryption)
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: invalid padding", domain.ErrDecryption)
		}
	}
	return b[:len(b)-n], nil
}
