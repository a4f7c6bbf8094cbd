package presign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Signer mints and verifies time-limited download URLs for attachment
// storage keys.
type Signer interface {
	SignedURL(storageKey string, expiry time.Duration) (string, error)
	Verify(storageKey string, exp int64, sig string) error
}

// HMACSigner signs storage keys with HMAC-SHA256. URLs look like
// <base>/<key>?exp=<unix>&sig=<hex>.
type HMACSigner struct {
	BaseURL string
	Secret  []byte
	Now     func() time.Time
}

func NewHMACSigner(baseURL, secret string) (*HMACSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("signing secret is required")
	}
	return &HMACSigner{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  []byte(secret),
		Now:     time.Now,
	}, nil
}

func (s *HMACSigner) SignedURL(storageKey string, expiry time.Duration) (string, error) {
	if storageKey == "" {
		return "", errors.New("storage key is required")
	}
	exp := s.now().Add(expiry).Unix()
	sig := s.sign(storageKey, exp)
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)
	return fmt.Sprintf("%s/%s?%s", s.BaseURL, storageKey, q.Encode()), nil
}

func (s *HMACSigner) Verify(storageKey string, exp int64, sig string) error {
	if exp < s.now().Unix() {
		return errors.New("url expired")
	}
	want := s.sign(storageKey, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return errors.New("bad signature")
	}
	return nil
}

func (s *HMACSigner) sign(storageKey string, exp int64) string {
	mac := hmac.New(sha256.New, s.Secret)
	fmt.Fprintf(mac, "%s\n%d", storageKey, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *HMACSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
