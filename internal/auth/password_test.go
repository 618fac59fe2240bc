package auth

import (
	"strings"
	"testing"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  error
	}{
		{"valid 8 chars", "password", nil},
		{"valid long", "this is a very long password", nil},
		{"too short", "1234567", ErrPasswordTooShort},
		{"empty", "", ErrPasswordTooShort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if err != tt.wantErr {
				t.Errorf("ValidatePassword(%q) = %v, want %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid", "alice", false},
		{"valid with underscore", "bob_smith", false},
		{"valid with hyphen", "cdn-user", false},
		{"minimum length", "abc", false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 33), true},
		{"spaces", "not valid", true},
		{"punctuation", "a@b.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
		})
	}
}

func TestHashPassword_RoundTrip(t *testing.T) {
	password := "testpassword123"

	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("unexpected hash format: %s", hash)
	}

	ok, err := VerifyPassword(password, hash)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if !ok {
		t.Error("correct password did not verify")
	}

	ok, err = VerifyPassword("wrongpassword", hash)
	if err != nil {
		t.Fatalf("VerifyPassword failed: %v", err)
	}
	if ok {
		t.Error("wrong password verified")
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	h1, err := HashPassword("samepassword")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := HashPassword("samepassword")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("two hashes of the same password should differ")
	}
}

func TestVerifyPassword_InvalidHash(t *testing.T) {
	if _, err := VerifyPassword("whatever", "not-a-hash"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestDummyHash_Verifies(t *testing.T) {
	ok, err := VerifyPassword("anything", DummyHash)
	if err != nil {
		t.Fatalf("DummyHash should parse: %v", err)
	}
	if ok {
		t.Error("DummyHash must never match a real password")
	}
}
