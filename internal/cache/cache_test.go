package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCache_ExpiresAfterTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New[int](time.Second)
	c.now = func() time.Time { return now }

	c.Set("k", 7)
	if v, ok := c.Get("k"); !ok || v != 7 {
		t.Fatalf("got %v %v", v, ok)
	}

	now = now.Add(time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry should expire at the ttl boundary")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string](time.Minute)
	calls := 0
	load := func() (string, error) {
		calls++
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad("k", load)
		if err != nil || v != "v" {
			t.Fatalf("got %q %v", v, err)
		}
	}
	if calls != 1 {
		t.Fatalf("loader called %d times", calls)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad("bad", func() (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Fatalf("got %v", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Fatalf("errors must not be cached")
	}
}
