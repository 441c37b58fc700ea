package jit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/bespoke/vm"
)

// TransKind says what a translation is for.
type TransKind uint8

const (
	// TransProfile translations gather profiles and log array behavior.
	TransProfile TransKind = iota
	// TransOptimize translations consume finished profiles.
	TransOptimize
	// TransLive translations specialize on the types observed at the
	// moment of compilation.
	TransLive
)

var transKindNames = [...]string{"Profile", "Optimize", "Live"}

func (k TransKind) String() string {
	if int(k) < len(transKindNames) {
		return transKindNames[k]
	}
	return "TransKind(?)"
}

// TransID identifies a translation.
type TransID int32

// InvalidTransID marks code with no translation of its own.
const InvalidTransID TransID = -1

var nextTransID atomic.Int32

// NewTransID allocates a fresh translation id. Ids start at 1 so the zero
// value can mean "not yet assigned".
func NewTransID() TransID {
	return TransID(nextTransID.Add(1))
}

// ---------------------------------------------------------------------------
// Budget
// ---------------------------------------------------------------------------

// Budget caps the code the JIT may produce. Zero limits are unlimited.
type Budget struct {
	MaxCodeBytes    int64
	MaxTranslations int64

	codeBytes    atomic.Int64
	translations atomic.Int64
}

// ShouldTranslate answers whether a new translation may even be attempted.
func (b *Budget) ShouldTranslate() bool {
	if b.MaxTranslations > 0 && b.translations.Load() >= b.MaxTranslations {
		return false
	}
	if b.MaxCodeBytes > 0 && b.codeBytes.Load() >= b.MaxCodeBytes {
		return false
	}
	return true
}

// Charge accounts one finished translation of n bytes. It returns false, and
// charges nothing, if that would exceed the budget.
func (b *Budget) Charge(n int) bool {
	if used := b.codeBytes.Add(int64(n)); b.MaxCodeBytes > 0 && used > b.MaxCodeBytes {
		b.codeBytes.Add(-int64(n))
		log.Infof("code budget exhausted: %d of %d bytes", used-int64(n), b.MaxCodeBytes)
		return false
	}
	if count := b.translations.Add(1); b.MaxTranslations > 0 && count > b.MaxTranslations {
		b.translations.Add(-1)
		b.codeBytes.Add(-int64(n))
		return false
	}
	return true
}

// Used reports the bytes and translations charged so far.
func (b *Budget) Used() (codeBytes, translations int64) {
	return b.codeBytes.Load(), b.translations.Load()
}

// ---------------------------------------------------------------------------
// Compile lease
// ---------------------------------------------------------------------------

type leaseKey struct {
	fn   vm.FuncID
	kind TransKind
}

// LeaseTable hands out at most one compile lease per (function, kind).
type LeaseTable struct {
	mu     sync.Mutex
	held   map[leaseKey]chan struct{}
	misses atomic.Uint64
}

func NewLeaseTable() *LeaseTable {
	return &LeaseTable{held: make(map[leaseKey]chan struct{})}
}

// TryAcquire takes the lease for (fn, kind), waiting up to wait for the
// current holder to finish. On success the returned release func must be
// called exactly once. ok is false when the wait ran out or ctx ended; the
// caller then falls back to the interpreter.
func (lt *LeaseTable) TryAcquire(ctx context.Context, fn vm.FuncID, kind TransKind, wait time.Duration) (release func(), ok bool) {
	key := leaseKey{fn, kind}
	var timeout <-chan time.Time
	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}
	for {
		lt.mu.Lock()
		ch, busy := lt.held[key]
		if !busy {
			ch = make(chan struct{})
			lt.held[key] = ch
			lt.mu.Unlock()
			var once sync.Once
			return func() {
				once.Do(func() {
					lt.mu.Lock()
					delete(lt.held, key)
					lt.mu.Unlock()
					close(ch)
				})
			}, true
		}
		lt.mu.Unlock()

		if timeout == nil {
			lt.misses.Add(1)
			return nil, false
		}
		select {
		case <-ch:
		case <-timeout:
			lt.misses.Add(1)
			return nil, false
		case <-ctx.Done():
			lt.misses.Add(1)
			return nil, false
		}
	}
}

// Misses counts failed acquisitions.
func (lt *LeaseTable) Misses() uint64 { return lt.misses.Load() }
