package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvance_WalksFullPipeline(t *testing.T) {
	want := []State{
		StateArtifactsWritten,
		StateDependenciesResolved,
		StateBuilt,
		StateTested,
		StateSucceeded,
	}

	s := StateCreated
	for _, w := range want {
		n, err := s.Advance()
		assert.NoError(t, err)
		assert.Equal(t, w, n)
		s = n
	}

	_, err := s.Advance()
	assert.Error(t, err, "succeeded is absorbing")
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateCreated, StateArtifactsWritten, true},
		{StateCreated, StateSucceeded, true},
		{StateCreated, StateBuilt, false},
		{StateBuilt, StateFailed, true},
		{StateFailed, StateCreated, false},
		{StateSucceeded, StateFailed, false},
		{StateTested, StateSucceeded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestSessionPaths(t *testing.T) {
	s := &Session{ID: "abc", Dir: "/tmp/tsbox/abc"}

	assert.Equal(t, "/tmp/tsbox/abc/code.ts", s.SourcePath())
	assert.Equal(t, "/tmp/tsbox/abc/code.test.ts", s.TestPath())
	assert.Equal(t, "/tmp/tsbox/abc/code.js", s.CompiledPath())
	assert.Equal(t, "/tmp/tsbox/abc/node_modules", s.ModulesPath())
}
