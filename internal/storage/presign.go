package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// URLSigner issues and verifies HMAC-signed, expiring download URLs. It stands
// in for an object store's native presigning on the filesystem backend.
type URLSigner struct {
	baseURL string
	secret  []byte
	now     func() time.Time
}

// NewURLSigner creates a signer rooted at baseURL (e.g. https://host/v1/files).
func NewURLSigner(baseURL, secret string) *URLSigner {
	return &URLSigner{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}
}

// Sign returns a URL for key that verifies until ttl elapses.
func (s *URLSigner) Sign(key string, ttl time.Duration) string {
	exp := s.now().Add(ttl).Unix()
	sig := s.signature(key, exp)
	return fmt.Sprintf("%s/%s?exp=%d&sig=%s", s.baseURL, key, exp, sig)
}

// Verify checks a key/exp/sig triple extracted from a download request.
func (s *URLSigner) Verify(key, expStr, sig string) error {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return fmt.Errorf("storage: malformed expiry")
	}
	if s.now().Unix() > exp {
		return fmt.Errorf("storage: url expired")
	}
	expected := s.signature(key, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("storage: invalid signature")
	}
	return nil
}

func (s *URLSigner) signature(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", key, exp)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
