package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"viralfaces/internal/domain"
)

// Header is the request header carrying the client supplied key.
const Header = "Idempotency-Key"

// MaxKeyLength bounds the accepted header value.
const MaxKeyLength = 255

var (
	// ErrInvalidKey is returned for keys that are blank or too long.
	ErrInvalidKey = errors.New("idempotency: invalid key")
	// ErrKeyReused is returned when a key is replayed with a different request.
	ErrKeyReused = errors.New("idempotency: key reused with a different request")
)

// KV is the subset of *redis.Client the store uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Store replays successful generation results for a (userId, key) pair.
type Store struct {
	kv     KV
	ttl    time.Duration
	prefix string
	logger zerolog.Logger
}

// NewStore wraps a Redis handle. ttl defaults to 24h.
func NewStore(kv KV, ttl time.Duration, logger zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{kv: kv, ttl: ttl, prefix: "viralfaces:idem:", logger: logger}
}

// ValidateKey trims and checks a header value.
func ValidateKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || len(key) > MaxKeyLength {
		return "", ErrInvalidKey
	}
	return key, nil
}

type entry struct {
	Fingerprint string                   `json:"fingerprint"`
	Result      *domain.GenerationResult `json:"result"`
}

// Lookup returns the result cached for req.UserID and key. A hit recorded for
// a different request body yields ErrKeyReused.
func (s *Store) Lookup(ctx context.Context, key string, req domain.GenerationRequest) (*domain.GenerationResult, bool, error) {
	raw, err := s.kv.Get(ctx, s.redisKey(req.UserID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: get: %w", err)
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil || e.Result == nil {
		s.logger.Warn().Err(err).Msg("idempotency: dropping undecodable entry")
		return nil, false, nil
	}
	if e.Fingerprint != fingerprint(req) {
		return nil, false, ErrKeyReused
	}
	return e.Result, true, nil
}

// Save caches a successful result for req.
func (s *Store) Save(ctx context.Context, key string, req domain.GenerationRequest, res *domain.GenerationResult) error {
	payload, err := json.Marshal(entry{Fingerprint: fingerprint(req), Result: res})
	if err != nil {
		return fmt.Errorf("idempotency: encode: %w", err)
	}
	if err := s.kv.Set(ctx, s.redisKey(req.UserID, key), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency: set: %w", err)
	}
	return nil
}

func (s *Store) redisKey(userID, key string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + key))
	return s.prefix + hex.EncodeToString(sum[:])
}

func fingerprint(req domain.GenerationRequest) string {
	sum := sha256.Sum256([]byte(req.FacePath + "\x00" + req.TemplateID + "\x00" + strconv.FormatBool(req.Watermark)))
	return hex.EncodeToString(sum[:])
}
