package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/promptforge/gateway/pkg/models"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	c, err := New(dbPath, ttl)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestFingerprintStability(t *testing.T) {
	a := models.ExecutionRequest{Prompt: "hello  world", ProviderID: "openai", Temperature: 0.2, MaxTokens: 100}
	b := models.ExecutionRequest{Prompt: " hello world ", ProviderID: "openai", Temperature: 0.21, MaxTokens: 100}
	c := models.ExecutionRequest{Prompt: "hello world", ProviderID: "anthropic", Temperature: 0.2, MaxTokens: 100}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("whitespace and sub-0.1 temperature differences should share a fingerprint")
	}
	if a.Fingerprint() == c.Fingerprint() {
		t.Error("different providers must not share a fingerprint")
	}
}

func TestPutAndGet(t *testing.T) {
	c := newTestCache(t, time.Hour)

	if err := c.Put("fp1", []byte(`{"response":"hello"}`)); err != nil {
		t.Fatal(err)
	}

	data, ok := c.Get("fp1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(data) != `{"response":"hello"}` {
		t.Errorf("unexpected response: %s", data)
	}

	if _, ok := c.Get("fp2"); ok {
		t.Error("expected cache miss for unknown fingerprint")
	}
}

func TestTTLExpiration(t *testing.T) {
	c := newTestCache(t, 1*time.Millisecond)

	if err := c.Put("fp1", []byte("data")); err != nil {
		t.Fatal(err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, ok := c.Get("fp1"); ok {
		t.Error("expected cache miss after TTL expiration")
	}
}

func TestStats(t *testing.T) {
	c := newTestCache(t, time.Hour)

	_ = c.Put("fp1", []byte("data"))
	c.Get("fp1") // hit
	c.Get("fp2") // miss

	stats, err := c.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 1 {
		t.Errorf("expected 1 entry, got %d", stats.Entries)
	}
	if stats.Hits != 1 {
		t.Errorf("expected 1 hit, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("expected 1 miss, got %d", stats.Misses)
	}
}

func TestClear(t *testing.T) {
	c := newTestCache(t, time.Hour)

	_ = c.Put("fp1", []byte("data"))
	_ = c.Put("fp2", []byte("data"))

	n, err := c.Clear(false)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 entries dropped, got %d", n)
	}

	stats, _ := c.Stats()
	if stats.Entries != 0 {
		t.Errorf("expected 0 entries after clear, got %d", stats.Entries)
	}
}

func TestClearExpiredOnly(t *testing.T) {
	c := newTestCache(t, time.Hour)

	_ = c.Put("fp1", []byte("data"))

	// Nothing has expired under a 1h TTL.
	n, err := c.Clear(true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected nothing dropped, got %d", n)
	}
	if _, ok := c.Get("fp1"); !ok {
		t.Error("live entry must survive an expired-only clear")
	}
}
