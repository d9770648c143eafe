package lockkey

import (
	"testing"
)

func TestHashKnownVectors(t *testing.T) {
	cases := []struct {
		alg  string
		want string
	}{
		{"", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{"SHA256", "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"},
		{HashSHA3256, "3338be694f50c5f338814986cdf0686453a888b84f424d792af4b9202398f392"},
	}
	for _, tc := range cases {
		got, err := Hash(tc.alg, []byte("hello"))
		if err != nil {
			t.Fatalf("hash %q: %v", tc.alg, err)
		}
		if got != tc.want {
			t.Fatalf("hash %q: got %s want %s", tc.alg, got, tc.want)
		}
	}
}

func TestSecretMatchesAcceptsPrefixedHex(t *testing.T) {
	hash, err := Hash(HashSHA256, []byte("swanlake"))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := secretMatches(HashSHA256, "0x"+hash, []byte("swanlake"))
	if err != nil || !ok {
		t.Fatalf("expected match, got %v %v", ok, err)
	}
	ok, err = secretMatches(HashSHA256, hash, []byte("swanlakE"))
	if err != nil || ok {
		t.Fatalf("expected mismatch, got %v %v", ok, err)
	}
}
