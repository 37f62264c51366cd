package coordinator

import (
	"testing"

	"github.com/fansqz/debug-engine/constants"
	"github.com/fansqz/debug-engine/debugger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateManager_SetStateIdempotent(t *testing.T) {
	s := NewStateManager()
	assert.Nil(t, s.SetState(debugger.NotStartedState()))

	event := s.SetState(debugger.InitializingState("app"))
	require.NotNil(t, event)
	assert.Equal(t, constants.StateChangedEvent, event.EventType())
	assert.Equal(t, debugger.InitializingState("app"), event.(*debugger.StateChanged).State)
	assert.Nil(t, s.SetState(debugger.InitializingState("app")))

	location := &debugger.Location{File: "main.c", Line: 3}
	require.NotNil(t, s.SetState(debugger.PausedState(constants.BreakpointStopped, location)))
	// 位置相同的新指针也视为同一个状态
	assert.Nil(t, s.SetState(debugger.PausedState(constants.BreakpointStopped, &debugger.Location{File: "main.c", Line: 3})))
	assert.NotNil(t, s.SetState(debugger.PausedState(constants.StepStopped, location)))
}

func TestStateManager_SelectFrame(t *testing.T) {
	s := NewStateManager()
	s.SetState(debugger.PausedState(constants.StepStopped, nil))
	event := s.SelectFrame(2, &debugger.StackFrame{ID: 2, Function: "compute"})
	require.NotNil(t, event)
	assert.Equal(t, constants.FrameSelectedEvent, event.EventType())
	assert.Equal(t, 2, s.CurrentFrame())
	assert.True(t, s.State().Is(debugger.Paused))

	s.SetState(debugger.RunningState())
	assert.Equal(t, 0, s.CurrentFrame())

	s.Reset()
	assert.Equal(t, debugger.NotStartedState(), s.State())
}
