package verification

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb)
}

func TestGenerateAndVerify(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code, err := s.Generate(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("Generate() = %q, want 6 digits", code)
	}

	if err := s.Verify(ctx, "user@example.com", code); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifyMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Generate(ctx, "user@example.com"); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if err := s.Verify(ctx, "user@example.com", "000000"); err != ErrMismatch {
		t.Fatalf("Verify() error = %v, want ErrMismatch", err)
	}
}

func TestVerifyNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Verify(ctx, "nobody@example.com", "123456"); err != ErrNotFound {
		t.Fatalf("Verify() error = %v, want ErrNotFound", err)
	}
}

// TestVerifyOneShot asserts a used code becomes invalid, not absent: a
// second Verify of the same code after a successful first use is rejected
// with ErrAlreadyUsed, never ErrNotFound or a silent second success.
func TestVerifyOneShot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	code, err := s.Generate(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := s.Verify(ctx, "user@example.com", code); err != nil {
		t.Fatalf("first Verify() error = %v", err)
	}

	if err := s.Verify(ctx, "user@example.com", code); err != ErrAlreadyUsed {
		t.Fatalf("second Verify() error = %v, want ErrAlreadyUsed", err)
	}
}

func TestCodeExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("starting miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	s := NewStore(rdb)
	ctx := context.Background()

	code, err := s.Generate(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	mr.FastForward(11 * time.Minute)

	if err := s.Verify(ctx, "user@example.com", code); err != ErrNotFound {
		t.Fatalf("Verify() after TTL = %v, want ErrNotFound", err)
	}
}

func TestGenerateOverwritesPriorCode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Generate(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	second, err := s.Generate(ctx, "user@example.com")
	if err != nil {
		t.Fatalf("second Generate() error = %v", err)
	}

	if err := s.Verify(ctx, "user@example.com", second); err != nil {
		t.Fatalf("Verify(second) error = %v", err)
	}

	// The first code is no longer valid once a fresh one has been generated,
	// unless Generate happened to draw the same 6 digits twice.
	if first != second {
		if err := s.Verify(ctx, "user@example.com", first); err == nil {
			t.Error("Verify(first) after overwrite should fail, got nil error")
		}
	}
}
