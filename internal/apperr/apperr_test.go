package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"coded error", NewCode(CodeEngineTimeout, "poll deadline exceeded"), CodeEngineTimeout},
		{"wrapped coded error", fmt.Errorf("dispatching: %w", NewCode(CodeInvalidMode, "bad mode")), CodeInvalidMode},
		{"kind-only error defaults", New(KindInternal, "boom"), CodeInternalError},
		{"plain error defaults", errors.New("boom"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(NewCode(CodeCreditNotEnough, "broke")); got != KindInsufficientCredits {
		t.Errorf("KindOf(CREDIT_NOT_ENOUGH) = %q, want insufficient_credits", got)
	}
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Errorf("KindOf(plain) = %q, want internal", got)
	}
}

func TestIs(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(KindForbidden, "not yours"))
	if !Is(err, KindForbidden) {
		t.Error("Is() should see through fmt.Errorf wrapping")
	}
	if Is(err, KindNotFound) {
		t.Error("Is() matched the wrong kind")
	}
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := WrapCode(CodeEngineUnavailable, "engine provider unreachable", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the wrapped cause")
	}
	if got := err.Error(); got != "engine provider unreachable: connection refused" {
		t.Errorf("Error() = %q", got)
	}
}

func TestWithDetails(t *testing.T) {
	err := NewCode(CodeEngineFailed, "engine reported failure").
		WithDetails(map[string]string{"node_name": "KSampler"})
	if err.Details["node_name"] != "KSampler" {
		t.Errorf("Details = %+v, want node_name set", err.Details)
	}
}

// TestEveryCodeHasAKind guards the codeKind table against a new Code
// constant landing without a mapping (which would silently map to the
// zero Kind).
func TestEveryCodeHasAKind(t *testing.T) {
	codes := []Code{
		CodeInvalidMode, CodeInvalidSourceImage, CodeMissingReferenceImage,
		CodeInvalidRequest, CodeUnauthenticated, CodeForbidden,
		CodeCreditNotEnough, CodeBalanceWriteFailed, CodeImageLoadFailed,
		CodeResultSaveFailed, CodeTaskDataNotFound, CodeEngineUnavailable,
		CodeEngineTimeout, CodeEngineFailed, CodeResultNotFound,
		CodePipelineError, CodeInternalError,
	}
	for _, c := range codes {
		if _, ok := codeKind[c]; !ok {
			t.Errorf("code %q has no Kind mapping", c)
		}
	}
}
