package irgen

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/chazu/bespoke/bespoke"
	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

// Translate generates the IR for fn. If bespoke specialization punts, the
// translation is redone generically, with every instruction emitted for
// vanilla arrays.
func Translate(fn *vm.Func, sess *bespoke.Session, classes *vm.ClassTable, ctx TransContext, entry FrameTypes) (*Unit, error) {
	if ctx.Trans == 0 {
		ctx.Trans = jit.NewTransID()
	}
	u, err := translateOnce(fn, sess, classes, ctx, entry, false)
	var failed *FailedIRGen
	if errors.As(err, &failed) {
		log.Infof("retrying %s generically: %s", fn.Name, failed.Reason)
		u, err = translateOnce(fn, sess, classes, ctx, entry, true)
	}
	return u, err
}

func translateOnce(fn *vm.Func, sess *bespoke.Session, classes *vm.ClassTable, ctx TransContext, entry FrameTypes, generic bool) (u *Unit, err error) {
	defer recoverFailure(&err)

	env := NewEnv(fn, sess, classes, ctx, entry)
	env.Unit.Generic = generic
	for off, in := range fn.Instrs {
		ni := NormalizedInstruction{Source: fn.SrcKey(off), Instr: in}
		HandleBespokeInputs(env, ni, EmitInterpOne)
		HandleVanillaOutputs(env, ni)
		if in.Op == vm.OpRetC {
			break
		}
	}
	env.Unit.prune()
	return env.Unit, nil
}

// ---------------------------------------------------------------------------
// Background translation
// ---------------------------------------------------------------------------

// Request asks for a translation of Func.
type Request struct {
	Func    *vm.Func
	Context TransContext
	Entry   FrameTypes
}

// Result is a finished translation.
type Result struct {
	Request
	Unit *Unit
	Code []byte
}

// LowerFunc turns a unit into machine code.
type LowerFunc func(*Unit) ([]byte, error)

type transKey struct {
	fn   vm.FuncID
	kind jit.TransKind
}

// Translator translates functions on background workers. At most one
// translation per (function, kind) is in flight, and finished code is
// charged to the JIT budget.
type Translator struct {
	sess    *bespoke.Session
	classes *vm.ClassTable
	cfg     config.JIT

	leases *jit.LeaseTable
	budget *jit.Budget

	// Lower, when set, produces the code a translation is charged for.
	Lower LowerFunc

	pending  chan Request
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu         sync.RWMutex
	translated map[transKey]*Result

	// Statistics
	translations atomic.Uint64
	punts        atomic.Uint64
	skipped      atomic.Uint64
	dropped      atomic.Uint64
}

// NewTranslator creates a translator. Call Start to run its workers.
func NewTranslator(sess *bespoke.Session, classes *vm.ClassTable, cfg config.JIT) *Translator {
	queue := cfg.QueueSize
	if queue < 1 {
		queue = config.DefaultQueueSize
	}
	return &Translator{
		sess:       sess,
		classes:    classes,
		cfg:        cfg,
		leases:     jit.NewLeaseTable(),
		budget:     &jit.Budget{MaxCodeBytes: cfg.MaxCodeBytes, MaxTranslations: cfg.MaxTranslations},
		pending:    make(chan Request, queue),
		done:       make(chan struct{}),
		translated: make(map[transKey]*Result),
	}
}

// Start runs the configured number of workers until Stop.
func (t *Translator) Start(ctx context.Context) {
	n := t.cfg.Workers
	if n < 1 {
		n = 1
	}
	for i := 0; i < n; i++ {
		t.wg.Add(1)
		go t.worker(ctx)
	}
}

// Stop ends the workers. Queued requests are dropped. Later calls are
// no-ops.
func (t *Translator) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

// Enqueue queues req without blocking. It returns false when the request
// was already translated or the queue is full.
func (t *Translator) Enqueue(req Request) bool {
	if t.Lookup(req.Func.ID, req.Context.Kind) != nil {
		return false
	}
	select {
	case t.pending <- req:
		return true
	default:
		// Queue full, skip this one
		t.dropped.Add(1)
		return false
	}
}

func (t *Translator) worker(ctx context.Context) {
	defer t.wg.Done()
	for {
		select {
		case req := <-t.pending:
			if _, err := t.TranslateNow(ctx, req); err != nil {
				log.Warningf("translation of %s failed: %s", req.Func.Name, err)
			}
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// ErrSkipped means a translation was not attempted or not kept. The
// function keeps running in the interpreter.
var ErrSkipped = errors.New("translation skipped")

// TranslateNow translates req on the calling goroutine.
func (t *Translator) TranslateNow(ctx context.Context, req Request) (*Result, error) {
	key := transKey{req.Func.ID, req.Context.Kind}
	if r := t.Lookup(key.fn, key.kind); r != nil {
		return r, nil
	}
	if !t.budget.ShouldTranslate() {
		t.skipped.Add(1)
		return nil, ErrSkipped
	}
	release, ok := t.leases.TryAcquire(ctx, key.fn, key.kind, t.cfg.LeaseWait)
	if !ok {
		t.skipped.Add(1)
		return nil, ErrSkipped
	}
	defer release()

	// Another worker may have finished while we waited for the lease.
	if r := t.Lookup(key.fn, key.kind); r != nil {
		return r, nil
	}

	u, err := Translate(req.Func, t.sess, t.classes, req.Context, req.Entry)
	if err != nil {
		t.punts.Add(1)
		return nil, err
	}
	if u.Generic {
		t.punts.Add(1)
	}

	res := &Result{Request: req, Unit: u}
	if t.Lower != nil {
		if res.Code, err = t.Lower(u); err != nil {
			return nil, err
		}
	}
	if !t.budget.Charge(len(res.Code)) {
		t.skipped.Add(1)
		return nil, ErrSkipped
	}

	t.mu.Lock()
	t.translated[key] = res
	t.mu.Unlock()
	t.translations.Add(1)
	log.Debugf("translated %s (%s): %d blocks, %d bytes", req.Func.Name, key.kind, len(u.Blocks), len(res.Code))
	return res, nil
}

// Lookup returns the finished translation of fn for kind, or nil.
func (t *Translator) Lookup(fn vm.FuncID, kind jit.TransKind) *Result {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.translated[transKey{fn, kind}]
}

// Stats holds translator statistics.
type Stats struct {
	Translations uint64
	Punts        uint64
	Skipped      uint64
	Dropped      uint64
	LeaseMisses  uint64
	CodeBytes    int64
	QueueLength  int
}

// Stats returns translator statistics.
func (t *Translator) Stats() Stats {
	code, _ := t.budget.Used()
	return Stats{
		Translations: t.translations.Load(),
		Punts:        t.punts.Load(),
		Skipped:      t.skipped.Load(),
		Dropped:      t.dropped.Load(),
		LeaseMisses:  t.leases.Misses(),
		CodeBytes:    code,
		QueueLength:  len(t.pending),
	}
}
