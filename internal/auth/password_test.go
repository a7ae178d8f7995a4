package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword() failed: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$m=65536,t=1,p=4$") {
		t.Errorf("unexpected hash format: %s", hash)
	}

	again, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}
	if hash == again {
		t.Error("two hashes of the same password should differ (different salts)")
	}
}

func TestVerifyPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		password string
		hash     string
		want     bool
		wantErr  bool
	}{
		{"correct password", "s3cret", hash, true, false},
		{"wrong password", "guess", hash, false, false},
		{"not a hash", "s3cret", "invalid", false, true},
		{"wrong algorithm", "s3cret", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA", false, true},
		{"bad parameters", "s3cret", "$argon2id$v=19$m=x$c2FsdA$aGFzaA", false, true},
		{"bad salt", "s3cret", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VerifyPassword(tt.password, tt.hash)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidHash) {
				t.Fatalf("error should wrap ErrInvalidHash: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatal(err)
	}

	if !Check("plain", "plain") || Check("plain", "Plain") {
		t.Error("plain-text comparison is wrong")
	}
	if !Check(hash, "s3cret") || Check(hash, "guess") {
		t.Error("hashed comparison is wrong")
	}
	if Check("$argon2id$broken", "$argon2id$broken") {
		t.Error("an undecodable hash must never match, even literally")
	}
}
