package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hangupTestPort(t *testing.T) *Port {
	t.Helper()
	p := newTestPort(t, 1, LawMu)
	p.sub[SubReal].Owner = &fakeOwner{}
	return p
}

func TestHangupRealPromotesAnsweredCallWaiting(t *testing.T) {
	cm := NewConferenceManager()
	p := hangupTestPort(t)
	cw, err := p.AllocateSub(SubCallWait, p.Device())
	require.NoError(t, err)
	cw.InThreeWay = true
	cwOwner := &fakeOwner{}
	cw.Owner = cwOwner

	p.Hangup(cm, SubReal)

	assert.Nil(t, p.Sub(SubCallWait))
	assert.Equal(t, cwOwner, p.Sub(SubReal).Owner)
}

func TestHangupRealCollapsesThreeWay(t *testing.T) {
	cm := NewConferenceManager()
	p := hangupTestPort(t)
	tw, err := p.AllocateSub(SubThreeWay, p.Device())
	require.NoError(t, err)
	tw.InThreeWay = true
	twOwner := &fakeOwner{}
	tw.Owner = twOwner

	p.Hangup(cm, SubReal)

	assert.Nil(t, p.Sub(SubThreeWay))
	assert.Equal(t, twOwner, p.Sub(SubReal).Owner)
}

func TestHangupCallWaitNotInThreeWayJustReleases(t *testing.T) {
	cm := NewConferenceManager()
	p := hangupTestPort(t)
	_, err := p.AllocateSub(SubCallWait, p.Device())
	require.NoError(t, err)

	p.Hangup(cm, SubCallWait)
	assert.Nil(t, p.Sub(SubCallWait))
}

func TestHangupThreeWayRelocatesCallWaitWhenInThreeWay(t *testing.T) {
	cm := NewConferenceManager()
	p := hangupTestPort(t)
	tw, err := p.AllocateSub(SubThreeWay, p.Device())
	require.NoError(t, err)
	tw.InThreeWay = true
	tw.Owner = &fakeOwner{}
	cw, err := p.AllocateSub(SubCallWait, p.Device())
	require.NoError(t, err)
	cwOwner := &fakeOwner{}
	cw.Owner = cwOwner

	p.Hangup(cm, SubThreeWay)

	assert.Nil(t, p.Sub(SubCallWait))
	require.NotNil(t, p.Sub(SubThreeWay))
	assert.Equal(t, cwOwner, p.Sub(SubThreeWay).Owner)
}

func TestHangupPostSuccessionResetClearsTransientState(t *testing.T) {
	cm := NewConferenceManager()
	p := hangupTestPort(t)
	p.LastFlash = frozenNow()
	p.Flags.ConfirmAnswer = true
	p.Flags.Outgoing = true
	p.Flags.PulseDial = true
	p.Sig = SigFXSLoopstart

	p.Hangup(cm, SubCallWait) // no CW/TW present; still runs postSuccessionReset

	assert.True(t, p.LastFlash.IsZero())
	assert.False(t, p.Flags.ConfirmAnswer)
	assert.False(t, p.Flags.Outgoing)
	assert.False(t, p.Flags.PulseDial)
	assert.Equal(t, LawMu, p.Law)
}

func TestDefaultLawForDigitalVsAnalog(t *testing.T) {
	assert.Equal(t, LawA, defaultLawFor(SigPRI))
	assert.Equal(t, LawMu, defaultLawFor(SigFXSLoopstart))
}
