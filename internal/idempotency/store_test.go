package idempotency

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"viralfaces/internal/domain"
)

type memKV struct {
	data   map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemKV() *memKV {
	return &memKV{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memKV) Get(ctx context.Context, key string) *redis.StringCmd {
	if m.getErr != nil {
		return redis.NewStringResult("", m.getErr)
	}
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memKV) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func request(userID string) domain.GenerationRequest {
	return domain.GenerationRequest{FacePath: userID + "/face.jpg", TemplateID: "rizz", UserID: userID, Watermark: true}
}

func TestSaveThenLookup(t *testing.T) {
	kv := newMemKV()
	store := NewStore(kv, 0, zerolog.Nop())
	want := &domain.GenerationResult{VideoURL: "https://files.test/v.mp4", ResultID: "r1", TemplateID: "rizz"}

	if err := store.Save(context.Background(), "key-1", request("u1"), want); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	got, ok, err := store.Lookup(context.Background(), "key-1", request("u1"))
	if err != nil || !ok {
		t.Fatalf("Lookup = %v, %v", ok, err)
	}
	if *got != *want {
		t.Fatalf("Lookup = %+v, want %+v", got, want)
	}
	for k, ttl := range kv.ttls {
		if ttl != 24*time.Hour {
			t.Fatalf("ttl = %v, want 24h", ttl)
		}
		if !strings.HasPrefix(k, "viralfaces:idem:") || strings.Contains(k, "key-1") {
			t.Fatalf("unexpected redis key %q", k)
		}
	}
}

func TestLookupScopedByUser(t *testing.T) {
	store := NewStore(newMemKV(), time.Hour, zerolog.Nop())
	_ = store.Save(context.Background(), "k", request("u1"), &domain.GenerationResult{ResultID: "r1"})
	if _, ok, err := store.Lookup(context.Background(), "k", request("u2")); ok || err != nil {
		t.Fatalf("key replayed for another user: ok=%v err=%v", ok, err)
	}
}

func TestLookupRejectsDifferentRequest(t *testing.T) {
	store := NewStore(newMemKV(), time.Hour, zerolog.Nop())
	_ = store.Save(context.Background(), "k", request("u1"), &domain.GenerationResult{ResultID: "r1"})

	tests := []struct {
		name   string
		mutate func(*domain.GenerationRequest)
	}{
		{name: "template", mutate: func(r *domain.GenerationRequest) { r.TemplateID = "trump-dance" }},
		{name: "face path", mutate: func(r *domain.GenerationRequest) { r.FacePath = "../u2/face.jpg" }},
		{name: "watermark", mutate: func(r *domain.GenerationRequest) { r.Watermark = false }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := request("u1")
			tc.mutate(&req)
			_, ok, err := store.Lookup(context.Background(), "k", req)
			if ok || !errors.Is(err, ErrKeyReused) {
				t.Fatalf("Lookup = %v, %v, want ErrKeyReused", ok, err)
			}
		})
	}
}

func TestLookupErrors(t *testing.T) {
	kv := newMemKV()
	kv.getErr = errors.New("connection refused")
	store := NewStore(kv, time.Hour, zerolog.Nop())
	if _, _, err := store.Lookup(context.Background(), "k", request("u1")); err == nil {
		t.Fatal("expected error")
	}

	corrupt := newMemKV()
	s2 := NewStore(corrupt, time.Hour, zerolog.Nop())
	corrupt.data[s2.redisKey("u1", "k")] = "{not json"
	if _, ok, err := s2.Lookup(context.Background(), "k", request("u1")); ok || err != nil {
		t.Fatalf("corrupt entry: ok=%v err=%v", ok, err)
	}
}

func TestValidateKey(t *testing.T) {
	if k, err := ValidateKey("  abc  "); err != nil || k != "abc" {
		t.Fatalf("ValidateKey = %q, %v", k, err)
	}
	if _, err := ValidateKey("   "); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("blank key: %v", err)
	}
	if _, err := ValidateKey(strings.Repeat("x", MaxKeyLength+1)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("long key: %v", err)
	}
}
