package fhe_test

import (
	"errors"
	"testing"

	"github.com/agrex/futures-ledger/internal/fhe"
)

func newEngine(t *testing.T) *fhe.LocalEngine {
	t.Helper()
	e, err := fhe.NewLocalEngineRandomKey()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestEncryptDecrypt_WithGrant(t *testing.T) {
	e := newEngine(t)

	h, err := e.Encrypt(1250, 64)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if h.IsZero() {
		t.Fatal("expected non-zero handle")
	}

	// No grant yet: decrypt must be denied.
	if _, err := e.Decrypt(h, "alice"); !errors.Is(err, fhe.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	if err := e.GrantDecrypt(h, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	v, err := e.Decrypt(h, "alice")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if v != 1250 {
		t.Errorf("decrypt = %d, want 1250", v)
	}

	// Grant is per-account.
	if _, err := e.Decrypt(h, "bob"); !errors.Is(err, fhe.ErrPermissionDenied) {
		t.Errorf("expected ErrPermissionDenied for bob, got %v", err)
	}
}

func TestAdd_InheritsGrants(t *testing.T) {
	e := newEngine(t)

	a, _ := e.Encrypt(100, 64)
	b, _ := e.Encrypt(50, 64)
	if err := e.GrantDecrypt(a, "alice"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	sum, err := e.Add(a, b)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Alice's grant on the old balance carries to the new sum.
	v, err := e.Decrypt(sum, "alice")
	if err != nil {
		t.Fatalf("decrypt sum: %v", err)
	}
	if v != 150 {
		t.Errorf("sum = %d, want 150", v)
	}
}

func TestSub_WrapsAtWidth(t *testing.T) {
	e := newEngine(t)

	a, _ := e.Encrypt(1, 32)
	b, _ := e.Encrypt(2, 32)
	diff, err := e.Sub(a, b)
	if err != nil {
		t.Fatalf("sub: %v", err)
	}
	e.GrantDecrypt(diff, "t")
	v, _ := e.Decrypt(diff, "t")
	if v != (1<<32)-1 {
		t.Errorf("expected wrap to 2^32-1, got %d", v)
	}
}

func TestMul_WidensResult(t *testing.T) {
	e := newEngine(t)

	q, _ := e.Encrypt(100, 32)
	p, _ := e.Encrypt(50, 32)
	total, err := e.Mul(q, p)
	if err != nil {
		t.Fatalf("mul: %v", err)
	}
	if total.Width != 64 {
		t.Errorf("expected 64-bit product, got %d", total.Width)
	}
	e.GrantDecrypt(total, "t")
	v, _ := e.Decrypt(total, "t")
	if v != 5000 {
		t.Errorf("product = %d, want 5000", v)
	}
}

func TestCompareLESelect_ClampsTransfer(t *testing.T) {
	e := newEngine(t)

	balance, _ := e.Encrypt(300, 64)
	owed, _ := e.Encrypt(500, 64)
	zero, _ := e.Encrypt(0, 64)

	cond, err := e.CompareLE(owed, balance)
	if err != nil {
		t.Fatalf("compare: %v", err)
	}
	transfer, err := e.Select(cond, owed, zero)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	e.GrantDecrypt(transfer, "t")
	v, _ := e.Decrypt(transfer, "t")
	if v != 0 {
		t.Errorf("insufficient balance should clamp transfer to 0, got %d", v)
	}

	// Sufficient balance: transfer the full amount.
	cond2, _ := e.CompareLE(balance, owed)
	transfer2, _ := e.Select(cond2, balance, zero)
	e.GrantDecrypt(transfer2, "t")
	v2, _ := e.Decrypt(transfer2, "t")
	if v2 != 300 {
		t.Errorf("expected 300, got %d", v2)
	}
}

func TestWidthMismatch(t *testing.T) {
	e := newEngine(t)

	a, _ := e.Encrypt(1, 32)
	b, _ := e.Encrypt(1, 64)
	if _, err := e.Add(a, b); !errors.Is(err, fhe.ErrWidthMismatch) {
		t.Errorf("expected ErrWidthMismatch, got %v", err)
	}
}

func TestTamperedHandleRejected(t *testing.T) {
	e := newEngine(t)

	h, _ := e.Encrypt(42, 64)
	h.Ciphertext[len(h.Ciphertext)-1] ^= 0xff
	if err := e.GrantDecrypt(h, "alice"); !errors.Is(err, fhe.ErrBadHandle) {
		t.Errorf("expected ErrBadHandle for tampered ciphertext, got %v", err)
	}
}

func TestEncrypt_RejectsBadWidth(t *testing.T) {
	e := newEngine(t)

	if _, err := e.Encrypt(1, 7); !errors.Is(err, fhe.ErrInvalidWidth) {
		t.Errorf("expected ErrInvalidWidth for width 7, got %v", err)
	}
	if _, err := e.Encrypt(1<<40, 32); !errors.Is(err, fhe.ErrInvalidWidth) {
		t.Errorf("expected ErrInvalidWidth for oversized value, got %v", err)
	}
}
