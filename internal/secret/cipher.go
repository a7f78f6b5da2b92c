package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// 凭证加解密错误定义
var (
	// ErrInvalidKey 密钥长度非法
	ErrInvalidKey = errors.New("encryption key must be 32 bytes (64 hex chars)")
	// ErrMalformedCiphertext 密文格式非法
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	// ErrUnknownVersion 密文版本不支持
	ErrUnknownVersion = errors.New("unknown ciphertext version")
)

// schemeV1 当前加密方案版本前缀
const schemeV1 = "v1"

// Cipher 服务商凭证的静态加密器。
//
// 方案 v1: "v1:" + base64(nonce || AES-256-GCM 密文)。
// 版本前缀允许未来轮换算法而不破坏已有密文。
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher 从十六进制密钥创建加密器
func NewCipher(hexKey string) (*Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil || len(key) != 32 {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt 加密明文凭证，返回版本化密文
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return schemeV1 + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解密版本化密文。
//
// 版本未知、格式非法或密文被篡改都会返回错误，绝不降级为明文。
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	version, payload, found := strings.Cut(ciphertext, ":")
	if !found {
		return "", ErrMalformedCiphertext
	}
	if version != schemeV1 {
		return "", ErrUnknownVersion
	}

	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", ErrMalformedCiphertext
	}

	nonce, data := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, data, nil)
	if err != nil {
		return "", ErrMalformedCiphertext
	}

	return string(plaintext), nil
}
