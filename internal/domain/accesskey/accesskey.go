// Package accesskey implements the access-key envelope: an AES-256-CBC
// encrypted, base64url-encoded payload embedded in an underscore-joined
// string of the form "<environment>_<event-type>_<version>_<payload>".
package accesskey

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	coreerrors "github.com/integration-core/core/internal/errors"
)

// Environment is the deployment environment an access key is scoped to.
type Environment string

const (
	EnvironmentLive        Environment = "live"
	EnvironmentTest        Environment = "test"
	EnvironmentDevelopment Environment = "development"
	EnvironmentProduction  Environment = "production"
)

// EventType distinguishes the two ways an access key is presented: as a
// long-lived secret passed in a request header (SecretKey), or embedded
// directly in the request path (Id) with its own event-name JSON path
// (§6 "POST /emit" vs "POST /emit/{access-key}").
type EventType string

const (
	EventTypeSecretKey EventType = "secret_key"
	EventTypeID        EventType = "id"
)

const currentVersion = "v1"

// Data is the payload encrypted inside an access key.
type Data struct {
	ID        string  `json:"id"`
	Group     string  `json:"group"`
	EventPath *string `json:"eventPath,omitempty"`
}

// AccessKey is the decoded, structured form of an access-key string.
type AccessKey struct {
	Environment Environment
	EventType   EventType
	Version     string
	Data        Data
}

// Encode encrypts ak.Data with AES-256-CBC under secret (32 bytes), using
// a fresh random IV each call, and renders the full envelope string.
// secret must be exactly 32 bytes (AES-256).
func Encode(ak AccessKey, secret []byte) (string, error) {
	if len(secret) != 32 {
		return "", coreerrors.InvalidArgument("accesskey: secret must be 32 bytes for AES-256").
			WithDetails("gotLength", len(secret))
	}

	plaintext, err := json.Marshal(ak.Data)
	if err != nil {
		return "", coreerrors.SerializeError(err)
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return "", coreerrors.EncryptionError(err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", coreerrors.EncryptionError(err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv)
	mode.CryptBlocks(ciphertext, padded)

	// IV is prepended to the ciphertext so Parse can recover it.
	sealed := append(iv, ciphertext...)
	payload := base64.RawURLEncoding.EncodeToString(sealed)

	version := ak.Version
	if version == "" {
		version = currentVersion
	}

	return fmt.Sprintf("%s_%s_%s_%s", ak.Environment, ak.EventType, version, payload), nil
}

// Parse decrypts and validates an access-key string against secret,
// recovering the original AccessKey. The law Parse(Encode(k, s), s) == k
// must hold for every k and valid s.
func Parse(raw string, secret []byte) (AccessKey, error) {
	parts := strings.SplitN(raw, "_", 4)
	if len(parts) != 4 {
		return AccessKey{}, coreerrors.InvalidArgument("accesskey: malformed envelope").
			WithDetails("raw", raw)
	}

	env, eventType, version, encoded := parts[0], parts[1], parts[2], parts[3]
	// "secret_key" itself contains an underscore, so its version and
	// payload sit one field further along.
	if EventType(eventType+"_"+version) == EventTypeSecretKey {
		rest := strings.SplitN(encoded, "_", 2)
		if len(rest) != 2 {
			return AccessKey{}, coreerrors.InvalidArgument("accesskey: malformed envelope").
				WithDetails("raw", raw)
		}
		eventType, version, encoded = string(EventTypeSecretKey), rest[0], rest[1]
	}

	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return AccessKey{}, coreerrors.DecryptionError(err)
	}
	if len(sealed) < aes.BlockSize {
		return AccessKey{}, coreerrors.DecryptionError(fmt.Errorf("accesskey: payload shorter than one block"))
	}

	iv, ciphertext := sealed[:aes.BlockSize], sealed[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return AccessKey{}, coreerrors.DecryptionError(fmt.Errorf("accesskey: ciphertext not block-aligned"))
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return AccessKey{}, coreerrors.DecryptionError(err)
	}

	padded := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded)
	if err != nil {
		return AccessKey{}, coreerrors.DecryptionError(err)
	}

	var data Data
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return AccessKey{}, coreerrors.DeserializeError(err)
	}

	return AccessKey{
		Environment: Environment(env),
		EventType:   EventType(eventType),
		Version:     version,
		Data:        data,
	}, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("accesskey: empty plaintext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("accesskey: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
