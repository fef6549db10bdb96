package storage

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

var (
	ErrInvalidSignature = errors.New("storage: invalid signature")
	ErrLinkExpired      = errors.New("storage: link expired")
)

// Signer issues and verifies HMAC signed download links of the form
// {baseURL}/files/{bucket}/{key}?expires={unix}&signature={hex}.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner returns a Signer rooted at baseURL, the public origin of the API.
func NewSigner(secret, baseURL string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("storage: signing secret is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("storage: signing base url is required")
	}
	return &Signer{secret: []byte(secret), baseURL: baseURL, now: time.Now}, nil
}

// Sign returns a link for bucket/key that stays valid for ttl.
func (s *Signer) Sign(bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("storage: ttl must be positive")
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.mac(bucket, key, expires))
	return fmt.Sprintf("%s/files/%s/%s?%s", s.baseURL, url.PathEscape(bucket), escapeKey(key), q.Encode()), nil
}

// Verify checks a link's signature and expiry.
func (s *Signer) Verify(bucket, key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	expected := s.mac(bucket, key, exp)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrLinkExpired
	}
	return nil
}

func (s *Signer) mac(bucket, key string, expires int64) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(bucket + "\n" + key + "\n" + strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(m.Sum(nil))
}

func escapeKey(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
