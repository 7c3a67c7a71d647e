package crypto

import "testing"

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if hash == "secret-password" {
		t.Fatalf("hash must not equal the plaintext")
	}
	if err := CheckPassword(hash, "secret-password"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "wrong-password"); err == nil {
		t.Fatalf("expected password mismatch")
	}
}

func TestHashesAreSalted(t *testing.T) {
	first, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	second, err := HashPassword("secret-password")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if first == second {
		t.Fatalf("two hashes of the same password must differ")
	}
}

func TestRefreshTokenDigest(t *testing.T) {
	token, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	other, err := NewRefreshToken()
	if err != nil {
		t.Fatalf("token error: %v", err)
	}
	if token == other {
		t.Fatalf("tokens must be random")
	}
	if HashToken(token) == token {
		t.Fatalf("digest must not equal the token")
	}
	if HashToken(token) != HashToken(token) {
		t.Fatalf("digest must be deterministic")
	}
}
