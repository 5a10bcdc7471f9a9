package accesskey

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// deriveSalt is fixed rather than random: DeriveSecret's job is to stretch
// an operator-supplied passphrase into exactly 32 bytes for AES-256, not
// to protect against rainbow-table attacks on a public hash, so a stable
// per-application salt (versus none at all) is enough to avoid producing
// the same derived key for two operators who happen to pick the same
// passphrase.
var deriveSalt = []byte("integration-core/accesskey/v1")

const deriveIterations = 100_000

// DeriveSecret stretches passphrase into a 32-byte AES-256 key via
// PBKDF2-HMAC-SHA256, for configuration where ACCESS_KEY_SECRET is an
// operator-chosen passphrase rather than already exactly 32 raw bytes.
func DeriveSecret(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), deriveSalt, deriveIterations, 32, sha256.New)
}
