package auth

import (
	"testing"
	"time"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := IssueToken("s3cret", "ci", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	claims, err := ParseToken("s3cret", tok)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.Subject != "ci" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestParseToken_Rejects(t *testing.T) {
	tok, _ := IssueToken("s3cret", "ci", time.Minute)
	if _, err := ParseToken("other", tok); err == nil {
		t.Error("wrong secret should fail")
	}

	expired, _ := IssueToken("s3cret", "ci", -time.Minute)
	if _, err := ParseToken("s3cret", expired); err == nil {
		t.Error("expired token should fail")
	}

	if _, err := IssueToken("", "ci", time.Minute); err == nil {
		t.Error("empty secret should fail")
	}
}
