package mailerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindConnectivity:   "connectivity",
		KindAuthentication: "authentication",
		KindProtocol:       "protocol",
		KindTimeout:        "timeout",
		KindCapability:     "capability_unsupported",
		KindParse:          "parse",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Expected %s, got %s", want, got)
		}
	}
}

func TestKindOf(t *testing.T) {
	t.Run("returns kind of a classified error", func(t *testing.T) {
		err := E(KindTimeout, "open", errors.New("deadline exceeded"))
		kind, ok := KindOf(err)
		if !ok {
			t.Fatal("Expected ok=true")
		}
		if kind != KindTimeout {
			t.Errorf("Expected KindTimeout, got %v", kind)
		}
	})

	t.Run("sees through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("cycle failed: %w", E(KindConnectivity, "refresh", errors.New("broken pipe")))
		kind, ok := KindOf(err)
		if !ok {
			t.Fatal("Expected ok=true")
		}
		if kind != KindConnectivity {
			t.Errorf("Expected KindConnectivity, got %v", kind)
		}
	})

	t.Run("returns ok=false for an unclassified error", func(t *testing.T) {
		if _, ok := KindOf(errors.New("plain")); ok {
			t.Error("Expected ok=false")
		}
	})
}

func TestIsKind(t *testing.T) {
	err := Errorf(KindCapability, "watch", "provider %s does not support waiting", "yahoo")
	if !IsKind(err, KindCapability) {
		t.Error("Expected IsKind to match KindCapability")
	}
	if IsKind(err, KindConnectivity) {
		t.Error("Expected IsKind not to match KindConnectivity")
	}
	if IsKind(nil, KindCapability) {
		t.Error("Expected IsKind to reject nil")
	}
}

func TestErrorFormatting(t *testing.T) {
	t.Run("includes op, kind and cause", func(t *testing.T) {
		err := E(KindAuthentication, "open", errors.New("LOGIN failed"))
		want := "open: authentication: LOGIN failed"
		if err.Error() != want {
			t.Errorf("Expected %q, got %q", want, err.Error())
		}
	})

	t.Run("unwraps to the cause", func(t *testing.T) {
		cause := errors.New("LOGIN failed")
		err := E(KindAuthentication, "open", cause)
		if !errors.Is(err, cause) {
			t.Error("Expected errors.Is to find the cause")
		}
	})
}
