package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_TaggedError(t *testing.T) {
	t.Parallel()

	err := New(KindConditionFailed, "status changed concurrently")
	if KindOf(err) != KindConditionFailed {
		t.Errorf("KindOf = %v, want KindConditionFailed", KindOf(err))
	}
	if !IsConditionFailed(err) {
		t.Error("IsConditionFailed = false, want true")
	}
}

func TestKindOf_WrappedChain(t *testing.T) {
	t.Parallel()

	inner := Wrap(KindNotFound, errors.New("no rows"), "incident INC-1")
	outer := fmt.Errorf("get incident: %w", inner)

	if KindOf(outer) != KindNotFound {
		t.Errorf("KindOf through wrap chain = %v, want KindNotFound", KindOf(outer))
	}
	if !errors.Is(outer, inner) {
		t.Error("errors.Is lost the chain")
	}
}

func TestKindOf_UntaggedError(t *testing.T) {
	t.Parallel()

	if KindOf(errors.New("plain")) != KindUnknown {
		t.Error("untagged error should report KindUnknown")
	}
}

func TestWrap_NilIsNil(t *testing.T) {
	t.Parallel()

	if Wrap(KindExternal, nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestError_Message(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want string
	}{
		{"msg only", New(KindValidation, "title is required"), "title is required"},
		{"msg and cause", Wrap(KindExternal, errors.New("503"), "slack webhook"), "slack webhook: 503"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if tc.err.Error() != tc.want {
				t.Errorf("Error() = %q, want %q", tc.err.Error(), tc.want)
			}
		})
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()

	want := map[Kind]string{
		KindUnknown:           "unknown",
		KindValidation:        "validation",
		KindNotFound:          "not_found",
		KindConditionFailed:   "condition_failed",
		KindInvalidTransition: "invalid_transition",
		KindExternal:          "external",
	}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("%d.String() = %q, want %q", k, k.String(), s)
		}
	}
}
