package spawn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndToEnd(t *testing.T) {
	s := newSession(t, DefaultConfig())
	res, err := s.Transform(mainSrc, "/src/main.js")
	require.NoError(t, err)
	require.Len(t, res.Sites, 2)

	rt := NewRuntime(s)
	require.True(t, rt.Supported())

	sum, err := rt.Call(context.Background(), res.Sites[0].Address, map[string]any{"x": 2, "y": 3})
	require.NoError(t, err)
	assert.Equal(t, 5.0, sum)

	h, err := rt.NewHandle(res.Sites[1].Address)
	require.NoError(t, err)
	got, err := h.Run(context.Background(), NewObject(), Number(21))
	require.NoError(t, err)
	assert.Equal(t, Value(Number(42)), got)
	assert.Equal(t, StateDestroyed, h.State())

	script, err := s.Store().Script(context.Background(), res.Sites[0].Program.Hash)
	require.NoError(t, err)
	assert.Equal(t, res.Sites[0].Program.Source, script)
}

func TestRuntimeWithoutWorkers(t *testing.T) {
	s := newSession(t, DefaultConfig())
	res, err := s.Transform(mainSrc, "/src/main.js")
	require.NoError(t, err)

	rt := NewRuntime(s, WithoutWorkers())
	assert.False(t, rt.Supported())
	_, err = rt.Call(context.Background(), res.Sites[0].Address, nil)
	assert.ErrorIs(t, err, ErrNoWorkerSupport)
}

func TestRuntimeUnknownAddress(t *testing.T) {
	rt := NewRuntime(newSession(t, DefaultConfig()))
	_, err := rt.NewHandle("/@virtual:js-spawn:/__worker__ffffffff.js")
	assert.ErrorIs(t, err, ErrUnknownProgram)
}
