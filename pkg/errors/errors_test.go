package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsUnwrapsWrappedError(t *testing.T) {
	t.Parallel()

	base := New(CodeAmountMismatch, "reported amount off by 0.05")
	wrapped := fmt.Errorf("verify callback: %w", base)

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeAmountMismatch, typed.Code())
	assert.Equal(t, "reported amount off by 0.05", typed.Message())
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	t.Parallel()

	meta := MetadataFor(Code("NO_SUCH_CODE"))
	assert.Equal(t, MetadataFor(CodeInternal), meta)
}

func TestIsIndeterminate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		code Code
		want bool
	}{
		{CodeSignature, true},
		{CodeDecryption, true},
		{CodeAmountMismatch, true},
		{CodeValidation, false},
		{CodeInsufficientStock, false},
		{CodeDependency, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsIndeterminate(New(tc.code, "x")), string(tc.code))
	}
	assert.False(t, IsIndeterminate(fmt.Errorf("plain error")))
	assert.False(t, IsIndeterminate(nil))
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("connection reset")
	err := Wrap(CodeDependency, cause, "gateway status call failed")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "DEPENDENCY_ERROR: gateway status call failed", err.Error())
}
