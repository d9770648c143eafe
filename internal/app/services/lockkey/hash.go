package lockkey

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Supported secret commitment algorithms.
const (
	HashSHA256  = "sha256"
	HashSHA3256 = "sha3-256"
)

// NormalizeAlgorithm lower-cases alg and maps the empty string to sha256.
func NormalizeAlgorithm(alg string) (string, error) {
	alg = strings.ToLower(strings.TrimSpace(alg))
	switch alg {
	case "":
		return HashSHA256, nil
	case HashSHA256, HashSHA3256:
		return alg, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHash, alg)
	}
}

// Hash commits to secret with alg and returns the hex digest.
func Hash(alg string, secret []byte) (string, error) {
	sum, err := digest(alg, secret)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

func digest(alg string, secret []byte) ([]byte, error) {
	alg, err := NormalizeAlgorithm(alg)
	if err != nil {
		return nil, err
	}
	if alg == HashSHA3256 {
		sum := sha3.Sum256(secret)
		return sum[:], nil
	}
	sum := sha256.Sum256(secret)
	return sum[:], nil
}

// parseCommitment validates a hex encoded 32-byte digest.
func parseCommitment(hexHash string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(hexHash), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: want 32 bytes, got %d", ErrInvalidHash, len(raw))
	}
	return raw, nil
}

func secretMatches(alg, commitment string, secret []byte) (bool, error) {
	want, err := parseCommitment(commitment)
	if err != nil {
		return false, err
	}
	got, err := digest(alg, secret)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
