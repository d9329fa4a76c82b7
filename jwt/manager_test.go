package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func testClaims(exp time.Time) Claims {
	return Claims{
		UserID:    "42",
		TokenType: "access",
		IP:        "10.0.0.1",
		UserAgent: "curl/8.0",
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "0b5f7e7c-5c1c-4d1c-9d6e-0d3b8b1d9e01",
			IssuedAt:  gjwt.NewNumericDate(time.Now()),
			ExpiresAt: gjwt.NewNumericDate(exp),
		},
	}
}

func TestSignParseRoundTrip(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "goguard"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, err := m.Sign(testClaims(time.Now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "42" || claims.TokenType != "access" || claims.IP != "10.0.0.1" || claims.UserAgent != "curl/8.0" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "goguard" {
		t.Fatalf("issuer not applied: %q", claims.Issuer)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, _ := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodHS256, testClaims(time.Now().Add(time.Minute)))
	token, err := tok.SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseRejectsExpiredAndMissingJTI(t *testing.T) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	expired, err := m.Sign(testClaims(time.Now().Add(-time.Minute)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(expired); err == nil {
		t.Fatal("expected expired token to fail")
	}

	noJTI := testClaims(time.Now().Add(time.Minute))
	noJTI.ID = ""
	token, err := m.Sign(noJTI)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected token without jti to fail")
	}

	noExp := testClaims(time.Now())
	noExp.ExpiresAt = nil
	token, err = m.Sign(noExp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected token without exp to fail")
	}
}

func TestParseIssuerAudienceAndLeeway(t *testing.T) {
	pub, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "goguard",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	wrongIssuer := testClaims(time.Now().Add(time.Minute))
	wrongIssuer.Issuer = "other"
	wrongIssuer.Audience = gjwt.ClaimStrings{"api"}
	badIssuer, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongIssuer).SignedString(priv)
	if _, err := m.Parse(badIssuer); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	wrongAudience := testClaims(time.Now().Add(time.Minute))
	wrongAudience.Issuer = "goguard"
	wrongAudience.Audience = gjwt.ClaimStrings{"other-api"}
	badAudience, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongAudience).SignedString(priv)
	if _, err := m.Parse(badAudience); err == nil {
		t.Fatal("expected wrong audience to fail")
	}

	within, err := m.Sign(testClaims(time.Now().Add(-15 * time.Second)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(within); err != nil {
		t.Fatalf("expected token within leeway to pass: %v", err)
	}
}

func TestParseUnknownKidFails(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, _ := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv1,
		PublicKey:     pub1,
		KeyID:         "k1",
		VerifyKeys:    map[string][]byte{"k1": pub1},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	tok := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, testClaims(time.Now().Add(time.Minute)))
	tok.Header["kid"] = "k2"
	token, err := tok.SignedString(priv1)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected unknown kid failure")
	}

	good, err := m.Sign(testClaims(time.Now().Add(time.Minute)))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Parse(good); err != nil {
		t.Fatalf("expected known kid token to pass: %v", err)
	}

	m2, _ := NewManager(Config{SigningMethod: MethodEd25519, PublicKey: pub2, VerifyKeys: map[string][]byte{"k1": pub2}})
	if _, err := m2.Parse(good); err == nil {
		t.Fatal("expected parse failure with mismatched key set")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256}); err == nil {
		t.Fatal("hs256 without key must fail")
	}
	if _, err := NewManager(Config{SigningMethod: MethodEd25519}); err == nil {
		t.Fatal("ed25519 without public key must fail")
	}
	if _, err := NewManager(Config{SigningMethod: "rs512", PrivateKey: []byte("x")}); err == nil {
		t.Fatal("unknown method must fail")
	}
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("x"), Leeway: time.Hour}); err == nil {
		t.Fatal("excessive leeway must fail")
	}
}

func FuzzParse(f *testing.F) {
	m, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("0123456789abcdef0123456789abcdef")})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := m.Sign(Claims{
		UserID:    "1",
		TokenType: "access",
		RegisteredClaims: gjwt.RegisteredClaims{
			ID:        "seed",
			ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1c2VyX2lkIjoiMSJ9.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := m.Parse(input)
		if err == nil && claims == nil {
			t.Fatal("nil claims without error")
		}
	})
}
