package gpu

import (
	"errors"
	"testing"
)

func TestErrorKindString(t *testing.T) {
	cases := map[ErrorKind]string{
		KindConfig:             "config",
		KindCapability:         "capability",
		KindPoolExhausted:      "pool_exhausted",
		KindDescriptorPoolQuirk: "descriptor_pool_quirk",
		KindNumericalQuality:   "numerical_quality",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("ErrorKind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	e := newErr(KindConfig, "TestOp", "context", inner)
	if !errors.Is(e, inner) {
		t.Errorf("expected errors.Is to find the wrapped error")
	}
	if e.Error() == "" {
		t.Errorf("expected a non-empty error message")
	}
}

func TestErrorWithoutWrapped(t *testing.T) {
	e := newErr(KindCapability, "TestOp", "no wrapped error", nil)
	if e.Unwrap() != nil {
		t.Errorf("expected Unwrap to return nil when no error was wrapped")
	}
}
