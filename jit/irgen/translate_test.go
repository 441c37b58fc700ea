package irgen

import (
	"context"
	"testing"
	"time"

	"github.com/chazu/bespoke/config"
	"github.com/chazu/bespoke/jit"
	"github.com/chazu/bespoke/vm"
)

func TestTranslateNow(t *testing.T) {
	tr := NewTranslator(newSession(config.ModeProfile), nil, config.JIT{})
	tr.Lower = func(u *Unit) ([]byte, error) { return make([]byte, 16), nil }

	req := Request{
		Func:    queryFunc("TestTranslateNow", vm.QueryMCGet, key0),
		Context: profTC,
		Entry:   vecIn,
	}
	r1, err := tr.TranslateNow(context.Background(), req)
	if err != nil {
		t.Fatalf("TranslateNow: %v", err)
	}
	r2, err := tr.TranslateNow(context.Background(), req)
	if err != nil {
		t.Fatalf("TranslateNow: %v", err)
	}
	if r1 != r2 {
		t.Error("Expected the cached translation the second time")
	}
	if tr.Lookup(req.Func.ID, jit.TransProfile) != r1 {
		t.Error("Expected Lookup to find the translation")
	}

	st := tr.Stats()
	if st.Translations != 1 {
		t.Errorf("Expected 1 translation, got %d", st.Translations)
	}
	if st.CodeBytes != 16 {
		t.Errorf("Expected 16 code bytes, got %d", st.CodeBytes)
	}
}

func TestTranslatorBudget(t *testing.T) {
	tr := NewTranslator(newSession(config.ModeProfile), nil, config.JIT{MaxTranslations: 1})
	ctx := context.Background()

	first := Request{Func: queryFunc("TestTranslatorBudgetA", vm.QueryMCGet, key0), Context: profTC, Entry: vecIn}
	if _, err := tr.TranslateNow(ctx, first); err != nil {
		t.Fatalf("TranslateNow: %v", err)
	}
	second := Request{Func: queryFunc("TestTranslatorBudgetB", vm.QueryMCGet, key0), Context: profTC, Entry: vecIn}
	if _, err := tr.TranslateNow(ctx, second); err != ErrSkipped {
		t.Errorf("Expected ErrSkipped once the budget is spent, got %v", err)
	}
	if st := tr.Stats(); st.Skipped != 1 {
		t.Errorf("Expected 1 skipped translation, got %d", st.Skipped)
	}
}

func TestTranslatorWorkers(t *testing.T) {
	tr := NewTranslator(newSession(config.ModeProfile), nil, config.JIT{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)
	defer tr.Stop()

	fns := make([]*vm.Func, 4)
	for i := range fns {
		fns[i] = queryFunc("TestTranslatorWorkers", vm.QueryMCGet, key0)
		if !tr.Enqueue(Request{Func: fns[i], Context: profTC, Entry: vecIn}) {
			t.Fatalf("Expected request %d to be queued", i)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for _, fn := range fns {
		for tr.Lookup(fn.ID, jit.TransProfile) == nil {
			if time.Now().After(deadline) {
				t.Fatalf("Timed out waiting for %d", fn.ID)
			}
			time.Sleep(time.Millisecond)
		}
	}
	if tr.Enqueue(Request{Func: fns[0], Context: profTC, Entry: vecIn}) {
		t.Error("Expected a translated function not to be queued again")
	}
}

func TestTranslatorQueueSize(t *testing.T) {
	tr := NewTranslator(newSession(config.ModeProfile), nil, config.JIT{QueueSize: 2})
	for i := 0; i < 3; i++ {
		ok := tr.Enqueue(Request{Func: queryFunc("TestTranslatorQueueSize", vm.QueryMCGet, key0), Context: profTC, Entry: vecIn})
		if want := i < 2; ok != want {
			t.Errorf("Request %d: Expected queued %v, got %v", i, want, ok)
		}
	}
	st := tr.Stats()
	if st.QueueLength != 2 {
		t.Errorf("Expected 2 queued, got %d", st.QueueLength)
	}
	if st.Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", st.Dropped)
	}
}

func TestTranslatorStopTwice(t *testing.T) {
	tr := NewTranslator(newSession(config.ModeProfile), nil, config.JIT{Workers: 2})
	tr.Start(context.Background())
	tr.Stop()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("Expected a second Stop to be a no-op, got %v", r)
		}
	}()
	tr.Stop()
}
