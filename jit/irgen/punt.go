package irgen

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/chazu/bespoke/vm"
)

// FailedIRGen aborts IR generation for a translation. The translator
// recovers it and retries the translation without bespoke specialization.
type FailedIRGen struct {
	Reason string
	SrcKey vm.SrcKey
	cause  error
}

func (e *FailedIRGen) Error() string {
	return fmt.Sprintf("irgen failed at %s: %s", e.SrcKey, e.Reason)
}

func (e *FailedIRGen) Unwrap() error { return e.cause }

// StackTrace is where the translation gave up.
func (e *FailedIRGen) StackTrace() errors.StackTrace {
	if st, ok := e.cause.(interface{ StackTrace() errors.StackTrace }); ok {
		return st.StackTrace()
	}
	return nil
}

// Format prints the stack for %+v.
func (e *FailedIRGen) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			fmt.Fprintf(s, "%s\n%+v", e.Error(), e.StackTrace())
			return
		}
		fallthrough
	case 's':
		io.WriteString(s, e.Error())
	case 'q':
		fmt.Fprintf(s, "%q", e.Error())
	}
}

// punt abandons the translation.
func punt(env *Env, format string, args ...any) {
	reason := fmt.Sprintf(format, args...)
	log.Debugf("punt at %s: %s", env.sk, reason)
	panic(&FailedIRGen{Reason: reason, SrcKey: env.sk, cause: errors.New(reason)})
}

// recoverFailure turns a FailedIRGen panic into an error. Other panics
// propagate.
func recoverFailure(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if f, ok := r.(*FailedIRGen); ok {
		*err = f
		return
	}
	panic(r)
}
