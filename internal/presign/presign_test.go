package presign

import (
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestSignedURLRoundTrip(t *testing.T) {
	s, err := NewHMACSigner("http://localhost:8080/uploads", "secret")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Now = func() time.Time { return now }

	u, err := s.SignedURL("proj/task/file-1", 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(u, "http://localhost:8080/uploads/proj/task/file-1?") {
		t.Fatalf("unexpected url %q", u)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	exp, err := strconv.ParseInt(parsed.Query().Get("exp"), 10, 64)
	if err != nil {
		t.Fatal(err)
	}
	sig := parsed.Query().Get("sig")
	if err := s.Verify("proj/task/file-1", exp, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.Verify("proj/task/file-2", exp, sig); err == nil {
		t.Fatal("signature accepted for wrong key")
	}

	s.Now = func() time.Time { return now.Add(16 * time.Minute) }
	if err := s.Verify("proj/task/file-1", exp, sig); err == nil {
		t.Fatal("expired url accepted")
	}
}

func TestSignerRequiresSecret(t *testing.T) {
	if _, err := NewHMACSigner("http://x", "  "); err == nil {
		t.Fatal("empty secret accepted")
	}
}
