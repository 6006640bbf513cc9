package common

import (
	"context"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{Transient(fmt.Errorf("503")), KindTransient},
		{fmt.Errorf("call: %w", context.DeadlineExceeded), KindTransient},
		{Permanent(fmt.Errorf("400")), KindPermanent},
		{LocalIO("write", fmt.Errorf("disk full")), KindLocalIO},
		{&fs.PathError{Op: "open", Path: "x", Err: fs.ErrNotExist}, KindLocalIO},
		{fmt.Errorf("normalize: %w", ErrSchemaMismatch), KindSchemaMismatch},
		{context.Canceled, KindCanceled},
		{NewAppError("CONFIG_ERROR", "bad", ErrInvalidInput), KindInvalidInput},
		{fmt.Errorf("boom"), KindUnknown},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), fmt.Sprint(tt.err))
	}
	assert.True(t, IsTransient(Transient(fmt.Errorf("x"))))
	assert.False(t, IsTransient(Permanent(fmt.Errorf("x"))))
}

func TestAppErrorUnwrap(t *testing.T) {
	err := NewAppError("CONFIG_ERROR", "dpi", ErrInvalidInput)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, "CONFIG_ERROR: dpi: invalid input", err.Error())
	assert.Nil(t, WrapError(nil, "x"))
}
