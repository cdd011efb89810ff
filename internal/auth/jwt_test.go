package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundtrip(t *testing.T) {
	token, exp, err := Issue("stu1", "student", "dev1", "qr-attendance", "secret", 15*time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatal("expiry must be in the future")
	}

	claims, err := Parse(token, "secret", "qr-attendance")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UserID != "stu1" || claims.Role != "student" || claims.DeviceID != "dev1" {
		t.Fatalf("claims mismatch: %+v", claims)
	}
}

func TestParseRejectsWrongKeyOrIssuer(t *testing.T) {
	token, _, err := Issue("stu1", "student", "", "qr-attendance", "secret", time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(token, "other-secret", "qr-attendance"); err == nil {
		t.Fatal("expected signature failure")
	}
	if _, err := Parse(token, "secret", "someone-else"); err == nil {
		t.Fatal("expected issuer mismatch")
	}
}

func TestParseRejectsExpired(t *testing.T) {
	token, _, err := Issue("stu1", "student", "", "qr-attendance", "secret", -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := Parse(token, "secret", "qr-attendance"); err == nil {
		t.Fatal("expected expired token to fail")
	}
}
