package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{
		Sub:      "user-1",
		Name:     "Avery",
		Email:    "avery@example.com",
		Verified: true,
		JTI:      "jti-1",
		Exp:      time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if claims.Sub != "user-1" || claims.Email != "avery@example.com" || !claims.Verified || claims.Guest {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	secret := []byte("secret")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	valid := Claims{Sub: "user-1", JTI: "jti-1", Exp: now.Add(time.Minute).Unix()}

	issue := func(c Claims) string {
		token, err := IssueToken(secret, c)
		if err != nil {
			t.Fatalf("IssueToken() error = %v", err)
		}
		return token
	}
	good := issue(valid)

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "expired", token: issue(Claims{Sub: "user-1", JTI: "j", Exp: now.Unix()}), want: ErrExpiredToken},
		{name: "missing subject", token: issue(Claims{JTI: "j", Exp: now.Add(time.Minute).Unix()}), want: ErrInvalidToken},
		{name: "guest with email", token: issue(Claims{Sub: "g", JTI: "j", Guest: true, Email: "a@b.c", Exp: now.Add(time.Minute).Unix()}), want: ErrInvalidToken},
		{name: "tampered", token: strings.TrimSuffix(good, good[len(good)-1:]) + "x", want: ErrInvalidToken},
		{name: "wrong secret", token: func() string { tok, _ := IssueToken([]byte("other"), valid); return tok }(), want: ErrInvalidToken},
		{name: "no signature", token: "abc", want: ErrInvalidToken},
		{name: "extra segment", token: good + ".x", want: ErrInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseTokenAt(secret, tc.token, now)
			if !errors.Is(err, tc.want) {
				t.Fatalf("ParseTokenAt() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGuestToken(t *testing.T) {
	secret := []byte("secret")
	issued, err := IssueToken(secret, Claims{Sub: "usr_guest", Guest: true, JTI: "j", Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	claims, err := ParseToken(secret, issued)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	if !claims.Guest || claims.Email != "" {
		t.Fatalf("unexpected guest claims: %+v", claims)
	}
}
