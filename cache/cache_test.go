package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key  string
		want error
	}{
		{"id:display:abc", nil},
		{"", ErrInvalidKey},
		{"   ", ErrInvalidKey},
		{"a\nb", ErrInvalidKey},
		{strings.Repeat("k", MaxKeyLength+1), ErrKeyTooLong},
	}
	for _, tt := range tests {
		if err := ValidateKey(tt.key); !errors.Is(err, tt.want) {
			t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, err, tt.want)
		}
	}
}

func TestPolicy_EffectiveTTL(t *testing.T) {
	p := Policy{DefaultTTL: time.Minute, MaxTTL: 10 * time.Minute}
	tests := []struct {
		override time.Duration
		want     time.Duration
	}{
		{0, time.Minute},
		{-time.Second, time.Minute},
		{5 * time.Minute, 5 * time.Minute},
		{time.Hour, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := p.EffectiveTTL(tt.override); got != tt.want {
			t.Errorf("EffectiveTTL(%v) = %v, want %v", tt.override, got, tt.want)
		}
	}
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{"default", DefaultPolicy(), false},
		{"disabled", NoCachePolicy(), false},
		{"uncapped", Policy{DefaultTTL: time.Hour}, false},
		{"negative ttl", Policy{DefaultTTL: -time.Second}, true},
		{"negative entries", Policy{DefaultTTL: time.Second, MaxEntries: -1}, true},
		{"ttl above cap", Policy{DefaultTTL: time.Hour, MaxTTL: time.Minute}, true},
		{"negative load timeout", Policy{DefaultTTL: time.Second, LoadTimeout: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_Defaults(t *testing.T) {
	if NoCachePolicy().ShouldCache() {
		t.Error("NoCachePolicy should not cache")
	}
	if !DefaultPolicy().ShouldCache() {
		t.Error("DefaultPolicy should cache")
	}
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, ok := c.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("Get() = %q, %v", v, ok)
	}

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("Get() after expiry should miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after lazy cleanup", c.Len())
	}
}

func TestMemoryCache_ZeroTTLDoesNotCache(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	_ = c.Set(context.Background(), "k", []byte("v"), 0)
	if _, ok := c.Get(context.Background(), "k"); ok {
		t.Fatal("zero TTL should not cache")
	}
}

func TestMemoryCache_MaxEntries(t *testing.T) {
	c := NewMemoryCache(Policy{DefaultTTL: time.Minute, MaxEntries: 2})
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_ = c.Set(ctx, "a", []byte("1"), time.Minute)
	_ = c.Set(ctx, "b", []byte("2"), 2*time.Minute)
	_ = c.Set(ctx, "c", []byte("3"), 3*time.Minute)

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("entry closest to expiry should be evicted")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Error("new entry missing")
	}
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(DefaultPolicy())
	ctx := context.Background()
	_ = c.Set(ctx, "k", []byte("v"), time.Minute)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("Get() after Delete should miss")
	}
}

func TestHashKeyer(t *testing.T) {
	k := NewHashKeyer("")
	a := k.Key("display", "realm", "alice")
	b := k.Key("display", "realm", "alice")
	if a != b {
		t.Fatalf("keys differ: %q %q", a, b)
	}
	if !strings.HasPrefix(a, "id:display:") {
		t.Errorf("key %q lacks prefix", a)
	}
	if strings.Contains(a, "alice") {
		t.Errorf("key %q leaks input", a)
	}
	if k.Key("display", "realm", "bob") == a {
		t.Error("different inputs produced the same key")
	}
	if k.Key("display", "rea", "lmalice") == a {
		t.Error("part boundaries must affect the key")
	}
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	load := func(context.Context) (string, error) {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return "Alice", nil
	}

	l := NewLoader(NewMemoryCache(DefaultPolicy()), DefaultPolicy())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if v, err := l.Load(ctx, "k", load); err != nil || v != "Alice" {
				t.Errorf("Load() = %q, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if v, _ := l.Load(ctx, "k", load); v != "Alice" {
		t.Fatalf("Load() = %q", v)
	}
	if n := calls.Load(); n < 1 || n > 2 {
		t.Errorf("load called %d times", n)
	}

	l.Forget(ctx, "k")
	_, _ = l.Load(ctx, "k", load)
	if n := calls.Load(); n < 2 {
		t.Errorf("load not called after Forget")
	}
}

func TestLoader_ErrorsNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	calls := 0
	l := NewLoader(NewMemoryCache(DefaultPolicy()), DefaultPolicy())

	for range 2 {
		if _, err := l.Load(ctx, "k", func(context.Context) (string, error) {
			calls++
			return "", boom
		}); !errors.Is(err, boom) {
			t.Fatalf("Load() error = %v", err)
		}
	}
	if calls != 2 {
		t.Errorf("load called %d times, want 2", calls)
	}
}

func TestLoader_SharedLoadOutlivesCaller(t *testing.T) {
	l := NewLoader(NewMemoryCache(DefaultPolicy()), DefaultPolicy())
	var calls atomic.Int32
	started, release := make(chan struct{}, 1), make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		calls.Add(1)
		started <- struct{}{}
		select {
		case <-release:
			return "Alice", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := l.Load(ctxA, "k", load)
		errA <- err
	}()
	<-started
	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("canceled caller Load() error = %v", err)
	}

	type result struct {
		v   string
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := l.Load(context.Background(), "k", load)
		resB <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if r := <-resB; r.err != nil || r.v != "Alice" {
		t.Fatalf("second caller Load() = %q, %v", r.v, r.err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("load called %d times, want 1", n)
	}
	if v, ok := l.cache.Get(context.Background(), "k"); !ok || string(v) != "Alice" {
		t.Errorf("value not cached after the first caller left: %q, %v", v, ok)
	}
}

func TestLoader_LoadTimeout(t *testing.T) {
	policy := Policy{DefaultTTL: time.Minute, LoadTimeout: 10 * time.Millisecond}
	l := NewLoader(NewMemoryCache(policy), policy)
	_, err := l.Load(context.Background(), "k", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Load() error = %v, want deadline exceeded", err)
	}
	if got := (Policy{}).EffectiveLoadTimeout(); got != DefaultLoadTimeout {
		t.Errorf("EffectiveLoadTimeout() = %s", got)
	}
}

func TestLoader_Disabled(t *testing.T) {
	calls := 0
	l := NewLoader(NewMemoryCache(NoCachePolicy()), NoCachePolicy())
	for range 3 {
		_, _ = l.Load(context.Background(), "k", func(context.Context) (string, error) {
			calls++
			return "x", nil
		})
	}
	if calls != 3 {
		t.Errorf("load called %d times, want 3", calls)
	}
}

func TestBadgerCache(t *testing.T) {
	ctx := context.Background()
	c, err := OpenBadgerCache("", Policy{DefaultTTL: time.Minute, MaxTTL: time.Hour})
	if err != nil {
		t.Fatalf("OpenBadgerCache() error = %v", err)
	}

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() on empty cache should miss")
	}
	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if got, ok := c.Get(ctx, "k"); !ok || string(got) != "v" {
		t.Errorf("Get() = %q, %v", got, ok)
	}
	if err := c.Set(ctx, "zero", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get(ctx, "zero"); ok {
		t.Error("zero ttl should not cache")
	}
	if err := c.Set(ctx, "", []byte("v"), time.Minute); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Set(empty key) error = %v, want ErrInvalidKey", err)
	}

	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Get() after Delete should miss")
	}

	if err := c.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Ping(ctx); err == nil {
		t.Error("Ping() after Close should fail")
	}
}

func TestBadgerCache_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c, err := OpenBadgerCache(dir, DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Set(ctx, "id:display:alice", []byte("Alice"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	c, err = OpenBadgerCache(dir, DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if got, ok := c.Get(ctx, "id:display:alice"); !ok || string(got) != "Alice" {
		t.Errorf("Get() after reopen = %q, %v", got, ok)
	}
}
