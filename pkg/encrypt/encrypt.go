package encrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// 金鑰推導用的 info, 更改會讓舊密文無法解開
const keyInfo = "ephemeral-chat room key v1"

// 定義錯誤信息
var (
	ErrEmptyRoom     = errors.New("encrypt: room code is required")
	ErrInvalidCipher = errors.New("encrypt: invalid ciphertext")
)

// Cipher encrypt(text)->cipher / decrypt(cipher)->text
type Cipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(cipherText string) (string, error)
}

// RoomCipher AES-256-GCM, key 由 room code + secret 經 HKDF 推導
type RoomCipher struct {
	aead cipher.AEAD
}

// NewRoomCipher create RoomCipher for a room
func NewRoomCipher(roomCode, secret string) (*RoomCipher, error) {
	roomCode = strings.ToLower(strings.TrimSpace(roomCode))
	if roomCode == "" {
		return nil, ErrEmptyRoom
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(roomCode+":"+secret), []byte(roomCode), []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &RoomCipher{aead: aead}, nil
}

// Encrypt 回傳 base64(nonce|sealed)
func (c *RoomCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt 解開 Encrypt 的輸出
func (c *RoomCipher) Decrypt(cipherText string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return "", ErrInvalidCipher
	}
	size := c.aead.NonceSize()
	if len(raw) < size+c.aead.Overhead() {
		return "", ErrInvalidCipher
	}
	plain, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", ErrInvalidCipher
	}
	return string(plain), nil
}
