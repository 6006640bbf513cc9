package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateNext(t *testing.T) {
	s := StateCreated
	var seen []State
	for !s.IsTerminal() {
		n, ok := s.Next()
		assert.True(t, ok)
		seen = append(seen, n)
		s = n
	}
	assert.Equal(t, []State{StateOCRDone, StateStructured, StateExtractedWritten, StateNormalized, StateMapped, StateCompleted}, seen)

	_, ok := StateCompleted.Next()
	assert.False(t, ok)
	_, ok = StateFailed.Next()
	assert.False(t, ok)
}

func TestStateStage(t *testing.T) {
	st, ok := StateCreated.Stage()
	assert.True(t, ok)
	assert.Equal(t, StageOCR, st)

	_, ok = StateFailed.Stage()
	assert.False(t, ok)
	assert.True(t, State("failed").Valid())
	assert.False(t, State("bogus").Valid())
}
