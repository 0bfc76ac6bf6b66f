// Package fhe defines the boundary with the confidential-computation engine.
//
// Quantities, prices, notional values, and balances circulate through the
// ledger only as opaque encrypted handles. The ledger performs arithmetic and
// comparison on handles through the Engine interface and never observes
// plaintext; decryption requires an explicit per-account permission grant.
package fhe

import "errors"

var (
	// ErrPermissionDenied is returned when an account without a decrypt
	// grant attempts to read a handle's plaintext.
	ErrPermissionDenied = errors.New("fhe: decrypt permission denied")

	// ErrBadHandle is returned for handles the engine did not produce or
	// whose ciphertext fails authentication.
	ErrBadHandle = errors.New("fhe: invalid or corrupted handle")

	// ErrWidthMismatch is returned when a binary operation receives
	// operands of different bit widths.
	ErrWidthMismatch = errors.New("fhe: operand width mismatch")

	// ErrInvalidWidth is returned for widths outside the supported set.
	ErrInvalidWidth = errors.New("fhe: unsupported bit width")
)

// Handle is an opaque reference to an encrypted unsigned integer. The
// ciphertext is authenticated; tampering is detected on the next operation.
// Handles are capability tokens: holding one conveys no ability to read the
// value, only to pass it back into the engine.
type Handle struct {
	ID         string `json:"id"`
	Ciphertext []byte `json:"ct"`
	Width      int    `json:"width"`
}

// IsZero reports whether h is the zero handle (no value attached).
func (h Handle) IsZero() bool {
	return h.ID == "" && len(h.Ciphertext) == 0
}

// Engine is the arithmetic and permission surface of the encrypted value
// store. Every operation returns a fresh handle; inputs are never mutated.
//
// Sub wraps modulo 2^width on underflow. Callers that must not underflow
// gate the subtraction with CompareLE and Select instead of decrypting.
type Engine interface {
	// Encrypt seals a plaintext value at the given bit width (8, 16, 32, 64).
	Encrypt(value uint64, width int) (Handle, error)

	// Add returns a handle for a + b (mod 2^width). Widths must match.
	Add(a, b Handle) (Handle, error)

	// Sub returns a handle for a - b (mod 2^width). Widths must match.
	Sub(a, b Handle) (Handle, error)

	// Mul returns a handle for a * b. The result width is the sum of the
	// operand widths, capped at 64; the product wraps at that width.
	Mul(a, b Handle) (Handle, error)

	// CompareLE returns an encrypted boolean (width 8, value 0 or 1)
	// for a <= b. Widths must match.
	CompareLE(a, b Handle) (Handle, error)

	// Select returns a handle carrying a's value when cond is encrypted
	// true, b's value otherwise. cond must be a CompareLE result; a and b
	// widths must match.
	Select(cond, a, b Handle) (Handle, error)

	// GrantDecrypt allows account to decrypt h and every handle derived
	// from it by future Add/Sub operations initiated on its behalf.
	GrantDecrypt(h Handle, account string) error

	// Decrypt reveals h's plaintext to a permitted account. Returns
	// ErrPermissionDenied for any other caller.
	Decrypt(h Handle, account string) (uint64, error)
}
