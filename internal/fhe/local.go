package fhe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// LocalEngine is an in-process Engine backed by AES-256-GCM under an
// engine-held key. It stands in for an external confidential-computation
// co-processor: values are opened only inside the engine, never by callers,
// and decrypt permissions are tracked per handle. Used for development and
// tests; production deployments swap in a remote engine behind the same
// interface.
type LocalEngine struct {
	aead cipher.AEAD

	mu    sync.RWMutex
	perms map[string]map[string]bool // handle ID → accounts with decrypt grant
}

// NewLocalEngine creates a local engine from a 32-byte master key.
func NewLocalEngine(key []byte) (*LocalEngine, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fhe: master key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fhe: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fhe: init gcm: %w", err)
	}
	return &LocalEngine{
		aead:  aead,
		perms: make(map[string]map[string]bool),
	}, nil
}

// NewLocalEngineRandomKey creates a local engine with an ephemeral random
// key. Handles do not survive a restart; development only.
func NewLocalEngineRandomKey() (*LocalEngine, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("fhe: generate key: %w", err)
	}
	return NewLocalEngine(key)
}

var validWidths = map[int]bool{8: true, 16: true, 32: true, 64: true}

func mask(width int) uint64 {
	if width >= 64 {
		return ^uint64(0)
	}
	return (1 << uint(width)) - 1
}

// seal encrypts value at width and registers a fresh handle.
func (e *LocalEngine) seal(value uint64, width int) (Handle, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Handle{}, fmt.Errorf("fhe: nonce: %w", err)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], value)
	ct := e.aead.Seal(nonce, nonce, buf[:], []byte{byte(width)})
	return Handle{
		ID:         uuid.New().String(),
		Ciphertext: ct,
		Width:      width,
	}, nil
}

// open authenticates and decrypts a handle inside the engine.
func (e *LocalEngine) open(h Handle) (uint64, error) {
	if h.IsZero() || !validWidths[h.Width] {
		return 0, ErrBadHandle
	}
	ns := e.aead.NonceSize()
	if len(h.Ciphertext) <= ns {
		return 0, ErrBadHandle
	}
	pt, err := e.aead.Open(nil, h.Ciphertext[:ns], h.Ciphertext[ns:], []byte{byte(h.Width)})
	if err != nil || len(pt) != 8 {
		return 0, ErrBadHandle
	}
	return binary.BigEndian.Uint64(pt), nil
}

// inheritPerms gives the result handle the union of the operand grants, so
// an owner keeps decrypt access to a balance as it is re-summed.
func (e *LocalEngine) inheritPerms(result Handle, operands ...Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := make(map[string]bool)
	for _, op := range operands {
		for acct := range e.perms[op.ID] {
			merged[acct] = true
		}
	}
	if len(merged) > 0 {
		e.perms[result.ID] = merged
	}
}

func (e *LocalEngine) Encrypt(value uint64, width int) (Handle, error) {
	if !validWidths[width] {
		return Handle{}, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}
	if value > mask(width) {
		return Handle{}, fmt.Errorf("%w: value %d exceeds %d bits", ErrInvalidWidth, value, width)
	}
	return e.seal(value, width)
}

func (e *LocalEngine) Add(a, b Handle) (Handle, error) {
	if a.Width != b.Width {
		return Handle{}, ErrWidthMismatch
	}
	va, err := e.open(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := e.open(b)
	if err != nil {
		return Handle{}, err
	}
	h, err := e.seal((va+vb)&mask(a.Width), a.Width)
	if err != nil {
		return Handle{}, err
	}
	e.inheritPerms(h, a, b)
	return h, nil
}

func (e *LocalEngine) Sub(a, b Handle) (Handle, error) {
	if a.Width != b.Width {
		return Handle{}, ErrWidthMismatch
	}
	va, err := e.open(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := e.open(b)
	if err != nil {
		return Handle{}, err
	}
	h, err := e.seal((va-vb)&mask(a.Width), a.Width)
	if err != nil {
		return Handle{}, err
	}
	e.inheritPerms(h, a, b)
	return h, nil
}

func (e *LocalEngine) Mul(a, b Handle) (Handle, error) {
	va, err := e.open(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := e.open(b)
	if err != nil {
		return Handle{}, err
	}
	width := a.Width + b.Width
	if width > 64 {
		width = 64
	}
	return e.seal((va*vb)&mask(width), width)
}

func (e *LocalEngine) CompareLE(a, b Handle) (Handle, error) {
	if a.Width != b.Width {
		return Handle{}, ErrWidthMismatch
	}
	va, err := e.open(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := e.open(b)
	if err != nil {
		return Handle{}, err
	}
	var bit uint64
	if va <= vb {
		bit = 1
	}
	return e.seal(bit, 8)
}

func (e *LocalEngine) Select(cond, a, b Handle) (Handle, error) {
	if a.Width != b.Width {
		return Handle{}, ErrWidthMismatch
	}
	vc, err := e.open(cond)
	if err != nil {
		return Handle{}, err
	}
	va, err := e.open(a)
	if err != nil {
		return Handle{}, err
	}
	vb, err := e.open(b)
	if err != nil {
		return Handle{}, err
	}
	out := vb
	if vc != 0 {
		out = va
	}
	return e.seal(out, a.Width)
}

func (e *LocalEngine) GrantDecrypt(h Handle, account string) error {
	if _, err := e.open(h); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	grants, ok := e.perms[h.ID]
	if !ok {
		grants = make(map[string]bool)
		e.perms[h.ID] = grants
	}
	grants[account] = true
	return nil
}

func (e *LocalEngine) Decrypt(h Handle, account string) (uint64, error) {
	e.mu.RLock()
	allowed := e.perms[h.ID][account]
	e.mu.RUnlock()
	if !allowed {
		return 0, ErrPermissionDenied
	}
	return e.open(h)
}
