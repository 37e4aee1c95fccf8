package identity

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

func TestNewAccessCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 200; i++ {
		code := NewAccessCode()
		if !re.MatchString(code) {
			t.Fatalf("Expected six decimal digits, got %q", code)
		}
		if code == "000000" {
			t.Fatalf("Expected code in [1, 999999], got %q", code)
		}
	}
}

func TestSHA256Hex(t *testing.T) {
	got := SHA256Hex("123456")
	want := "8d969eef6ecad3c29a3a629280e686cf0c3f5d5a86aff3ca12020c923adc6c92"
	if got != want {
		t.Fatalf("Expected %s, got %s", want, got)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tokens, err := NewTokens("test-secret")
	if err != nil {
		t.Fatalf("NewTokens failed: %v", err)
	}

	raw, err := tokens.Mint("S1", "U1", true)
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}

	claims, err := tokens.Verify(raw)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if claims.Audience != "S1" || claims.Subject != "U1" || !claims.IsHost {
		t.Errorf("Expected {S1 U1 true}, got {%s %s %v}", claims.Audience, claims.Subject, claims.IsHost)
	}
	if claims.ExpiresAt-claims.IssuedAt != TokenLifetime.Milliseconds() {
		t.Errorf("Expected exp-iat of %d ms, got %d", TokenLifetime.Milliseconds(), claims.ExpiresAt-claims.IssuedAt)
	}
}

func TestTokenExpiry(t *testing.T) {
	tokens, _ := NewTokens("test-secret")

	old := time.Now().Add(-6 * time.Minute).UnixMilli()
	stale := &Claims{
		Audience:  "S1",
		Subject:   "U1",
		IssuedAt:  old,
		ExpiresAt: old + TokenLifetime.Milliseconds(),
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, stale).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("signing stale token: %v", err)
	}

	if _, err := tokens.Verify(raw); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestTokenWrongSecret(t *testing.T) {
	mint, _ := NewTokens("secret-a")
	verify, _ := NewTokens("secret-b")

	raw, _ := mint.Mint("S1", "U1", false)
	if _, err := verify.Verify(raw); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Expected ErrTokenInvalid, got %v", err)
	}
}

func TestNewTokensRequiresSecret(t *testing.T) {
	if _, err := NewTokens(""); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("Expected ErrNoSecret, got %v", err)
	}
}

func TestRequireMember(t *testing.T) {
	tokens, _ := NewTokens("test-secret")
	raw, _ := tokens.Mint("S1", "U1", false)

	caller, err := tokens.RequireMember("Bearer "+raw, "S1")
	if err != nil {
		t.Fatalf("RequireMember failed: %v", err)
	}
	if caller.UID != "U1" || caller.IsHost {
		t.Errorf("Expected guest U1, got %+v", caller)
	}

	if _, err := tokens.RequireMember(raw, "S1"); err != nil {
		t.Errorf("Expected bare token to be accepted, got %v", err)
	}
	if _, err := tokens.RequireMember("Bearer "+raw, "S2"); !errors.Is(err, ErrWrongSession) {
		t.Errorf("Expected ErrWrongSession, got %v", err)
	}
	if _, err := tokens.RequireMember("", "S1"); !errors.Is(err, ErrNoAuthHeader) {
		t.Errorf("Expected ErrNoAuthHeader, got %v", err)
	}
}

func TestRequireHost(t *testing.T) {
	tokens, _ := NewTokens("test-secret")

	host, _ := tokens.Mint("S1", "H1", true)
	guest, _ := tokens.Mint("S1", "G1", false)

	if _, err := tokens.RequireHost(host, "S1"); err != nil {
		t.Fatalf("Expected host to pass, got %v", err)
	}
	if _, err := tokens.RequireHost(guest, "S1"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("Expected ErrNotHost, got %v", err)
	}
}
