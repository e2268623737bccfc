package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analogTestPort(t *testing.T, sig SigVariant) *Port {
	t.Helper()
	p := newTestPort(t, 1, LawMu)
	p.Sig = sig
	return p
}

func TestHandleRingOffhookFXSEntersRing(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXSLoopstart)

	require.NoError(t, h.Handle(p, Event{Kind: EventRingOffhook}))
	assert.Equal(t, StateRing, p.State)
	assert.True(t, p.sub[SubReal].HasPending())
}

func TestHandleRingOffhookFXOEntersRinging(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)

	require.NoError(t, h.Handle(p, Event{Kind: EventRingOffhook}))
	assert.Equal(t, StateRinging, p.State)
}

func TestHandleOnhookSoftHangsUpActiveOwner(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXSLoopstart)
	p.State = StateUp
	owner := &fakeOwner{}
	p.sub[SubReal].Owner = owner

	require.NoError(t, h.Handle(p, Event{Kind: EventOnhook}))
	assert.Equal(t, []string{"onhook"}, owner.hangups)
}

func TestHandleOnhookIgnoredDuringPolaritySupervisionOnly(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)
	p.State = StateUp
	p.Flags.AnswerOnPolaritySwitch = true
	owner := &fakeOwner{}
	p.sub[SubReal].Owner = owner

	require.NoError(t, h.Handle(p, Event{Kind: EventOnhook}))
	assert.Empty(t, owner.hangups)
}

func TestHandleWinkFlashRecordsFlashAndPendsOnFXS(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXSLoopstart)
	p.State = StateUp

	require.NoError(t, h.Handle(p, Event{Kind: EventWinkFlash}))
	assert.False(t, p.LastFlash.IsZero())
	assert.True(t, p.sub[SubReal].HasPending())
}

func TestHandlePolarityReversalTogglesState(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)

	require.NoError(t, h.Handle(p, Event{Kind: EventPolarityReversal}))
	assert.Equal(t, PolarityReverse, p.Polarity)

	require.NoError(t, h.Handle(p, Event{Kind: EventPolarityReversal}))
	assert.Equal(t, PolarityIdle, p.Polarity)
}

func TestHandlePolarityReversalConfirmsAnswerImmediatelyWithoutDelay(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)
	p.State = StateDialingOffhook
	p.Flags.Outgoing = true
	p.Flags.AnswerOnPolaritySwitch = true

	require.NoError(t, h.Handle(p, Event{Kind: EventPolarityReversal}))
	assert.Equal(t, StateUp, p.State)
	assert.False(t, p.Flags.Dialing)
}

func TestHandlePolarityReversalDefersAnswerWhenDelayConfigured(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)
	p.State = StateDialingOffhook
	p.Flags.Outgoing = true
	p.Flags.AnswerOnPolaritySwitch = true
	p.PolarityOnAnswerDelayMS = 500

	require.NoError(t, h.Handle(p, Event{Kind: EventPolarityReversal}))
	assert.Equal(t, StateDialingOffhook, p.State, "answer should wait for the configured delay")
	assert.False(t, p.PolarityOnAnswerAt.IsZero())
}

func TestHandlePolarityReversalHangsUpWhenFlagged(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)
	p.State = StateUp
	p.Flags.HangupOnPolaritySwitch = true
	owner := &fakeOwner{}
	p.sub[SubReal].Owner = owner

	require.NoError(t, h.Handle(p, Event{Kind: EventPolarityReversal}))
	assert.Equal(t, []string{"polarity"}, owner.hangups)
}

func TestHandleDialCompleteClearsDialingFlag(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)
	p.Flags.Dialing = true

	require.NoError(t, h.Handle(p, Event{Kind: EventDialComplete}))
	assert.False(t, p.Flags.Dialing)
}

func TestHandleAlarmTogglesInAlarmFlag(t *testing.T) {
	h := NewAnalogEventHandler(NewConferenceManager())
	p := analogTestPort(t, SigFXOLoopstart)

	require.NoError(t, h.Handle(p, Event{Kind: EventAlarm}))
	assert.True(t, p.Flags.InAlarm)

	require.NoError(t, h.Handle(p, Event{Kind: EventNoAlarm}))
	assert.False(t, p.Flags.InAlarm)
}
