package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormattingAndUnwrap(t *testing.T) {
	err := NewError(CodeLoad, "failed to parse frame 3", ErrMissingDataObject)
	assert.Equal(t, "[FRAME_LOAD_FAILED] failed to parse frame 3: required data object missing from pipeline input", err.Error())
	assert.ErrorIs(t, err, ErrMissingDataObject)

	bare := NewError(CodeValidation, "bad key", nil)
	assert.Equal(t, "[VALIDATION_FAILED] bad key", bare.Error())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, ""},
		{"canceled", context.Canceled, CategoryCanceled},
		{"wrapped canceled", fmt.Errorf("engine: %w", ErrCanceled), CategoryCanceled},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"transport", fmt.Errorf("fetch: %w", ErrTransport), CategoryTransient},
		{"cycle", ErrCyclicReference, CategoryInvalid},
		{"coded transport", NewError(CodeTransport, "listing failed", nil), CategoryTransient},
		{"coded validation", NewError(CodeValidation, "bad", nil), CategoryInvalid},
		{"other", fmt.Errorf("boom"), CategoryFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
