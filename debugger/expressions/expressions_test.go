package expressions

import (
	"context"
	"errors"
	"testing"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	e "github.com/fansqz/debug-engine/error"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEvaluator struct {
	values map[string]string
	calls  int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, expression string) (string, error) {
	f.calls++
	value, ok := f.values[expression]
	if !ok {
		return "", errors.New("no symbol in current context")
	}
	return value, nil
}

var paused = debugger.PausedState(constants.StepStopped, nil)

func TestStore_AddDedup(t *testing.T) {
	s := NewStore(0)
	id := s.Add("x")
	assert.Equal(t, id, s.Add("x"))
	other := s.Add("y")
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, s.Len())

	text, err := s.Find(other)
	require.NoError(t, err)
	assert.Equal(t, "y", text)

	require.NoError(t, s.Update(other, "y + 1"))
	text, err = s.Find(other)
	require.NoError(t, err)
	assert.Equal(t, "y + 1", text)
	assert.ErrorIs(t, s.Update(42, "z"), e.ErrExpressionNotFound)
}

func TestStore_Remove(t *testing.T) {
	s := NewStore(0)
	id := s.Add("x")
	info, err := s.Remove(id)
	require.NoError(t, err)
	assert.Equal(t, "x", info.Name)
	_, err = s.Remove(id)
	assert.ErrorIs(t, err, e.ErrExpressionNotFound)

	s.Add("y")
	_, ok := s.RemoveText("y")
	assert.True(t, ok)
	_, ok = s.RemoveText("y")
	assert.False(t, ok)
}

func TestStore_EvaluateRequiresPaused(t *testing.T) {
	s := NewStore(0)
	evaluator := &fakeEvaluator{values: map[string]string{"x": "1"}}
	_, err := s.Evaluate(context.Background(), evaluator, "x", debugger.RunningState())
	assert.ErrorIs(t, err, e.ErrNotPaused)
	assert.True(t, e.IsKind(err, e.StateError))
	_, err = s.EvaluateAll(context.Background(), evaluator, debugger.NotStartedState())
	assert.ErrorIs(t, err, e.ErrNotPaused)
	assert.Equal(t, 0, evaluator.calls)
}

func TestStore_EvaluateCache(t *testing.T) {
	s := NewStore(0)
	evaluator := &fakeEvaluator{values: map[string]string{"x": "1"}}
	info, err := s.Evaluate(context.Background(), evaluator, "x", paused)
	require.NoError(t, err)
	assert.Equal(t, "1", info.Value)
	assert.Equal(t, constants.ScopeWatch, info.Scope)

	evaluator.values["x"] = "2"
	info, err = s.Evaluate(context.Background(), evaluator, "x", paused)
	require.NoError(t, err)
	assert.Equal(t, "1", info.Value)
	assert.Equal(t, 1, evaluator.calls)

	s.Purge()
	info, err = s.Evaluate(context.Background(), evaluator, "x", paused)
	require.NoError(t, err)
	assert.Equal(t, "2", info.Value)
}

func TestStore_EvaluateAll(t *testing.T) {
	s := NewStore(0)
	evaluator := &fakeEvaluator{values: map[string]string{"x": "1"}}
	xID := s.Add("x")
	missingID := s.Add("missing")

	variables, err := s.EvaluateAll(context.Background(), evaluator, paused)
	require.NoError(t, err)
	require.Len(t, variables, 2)
	assert.Equal(t, xID, variables[0].ID)
	assert.Equal(t, "1", variables[0].Value)
	assert.Equal(t, missingID, variables[1].ID)
	assert.NotEmpty(t, variables[1].Error)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "1", list[0].Value)
	assert.NotEmpty(t, list[1].Error)
}

func TestStore_Reset(t *testing.T) {
	s := NewStore(0)
	s.Add("x")
	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.List())
	assert.Equal(t, 1, s.Add("z"))
}
