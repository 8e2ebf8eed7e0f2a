package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MinSecretLength is the shortest webhook secret HashSecret accepts.
const MinSecretLength = 16

// argonParams are the Argon2id cost settings recorded in a PHC string.
type argonParams struct {
	memory  uint32 // KiB
	time    uint32
	threads uint8
}

// currentParams is what HashSecret uses today. Hashes made with anything
// weaker still verify, but NeedsRehash flags them.
var currentParams = argonParams{memory: 64 * 1024, time: 3, threads: 1}

const (
	argonKeyLen  = 32
	argonSaltLen = 16
)

// phcHash is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$key string.
type phcHash struct {
	params argonParams
	salt   []byte
	key    []byte
}

func (h phcHash) String() string {
	enc := base64.RawStdEncoding
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.params.memory, h.params.time, h.params.threads,
		enc.EncodeToString(h.salt), enc.EncodeToString(h.key))
}

func (h phcHash) derive(secret string) []byte {
	return argon2.IDKey([]byte(secret), h.salt, h.params.time, h.params.memory, h.params.threads,
		uint32(len(h.key))) //nolint:gosec // G115: key length always fits uint32
}

// HashSecret hashes a webhook secret with Argon2id and returns the PHC
// string to store in security.webhook_secret_hash.
func HashSecret(secret string) (string, error) {
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrSecretTooWeak, MinSecretLength)
	}

	h := phcHash{params: currentParams, salt: make([]byte, argonSaltLen)}
	if _, err := rand.Read(h.salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}
	h.key = argon2.IDKey([]byte(secret), h.salt, h.params.time, h.params.memory, h.params.threads, argonKeyLen)
	return h.String(), nil
}

// VerifySecret reports whether secret matches the PHC hash. The comparison
// runs in constant time; a malformed hash is ErrInvalidHash.
func VerifySecret(secret, encoded string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(h.key, h.derive(secret)) == 1, nil
}

// NeedsRehash reports whether encoded was made with weaker settings than
// HashSecret uses now.
func NeedsRehash(encoded string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	p := h.params
	return p.memory < currentParams.memory || p.time < currentParams.time || len(h.key) < argonKeyLen, nil
}

func parsePHC(encoded string) (phcHash, error) {
	var h phcHash

	fields := strings.Split(encoded, "$")
	switch {
	case len(fields) != 6: //nolint:mnd // "", alg, version, params, salt, key
		return h, fmt.Errorf("%w: expected 6 fields", ErrInvalidHash)
	case fields[1] != "argon2id":
		return h, fmt.Errorf("%w: unsupported algorithm %q", ErrInvalidHash, fields[1])
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return h, fmt.Errorf("%w: version: %w", ErrInvalidHash, err)
	}
	if version != argon2.Version {
		return h, fmt.Errorf("%w: unsupported version %d", ErrInvalidHash, version)
	}
	if _, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.params.memory, &h.params.time, &h.params.threads); err != nil {
		return h, fmt.Errorf("%w: parameters: %w", ErrInvalidHash, err)
	}

	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(fields[4]); err != nil {
		return h, fmt.Errorf("%w: salt: %w", ErrInvalidHash, err)
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(fields[5]); err != nil {
		return h, fmt.Errorf("%w: key: %w", ErrInvalidHash, err)
	}
	if len(h.key) == 0 {
		return h, fmt.Errorf("%w: empty key", ErrInvalidHash)
	}
	return h, nil
}
