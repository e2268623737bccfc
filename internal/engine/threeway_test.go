package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOwner struct {
	controls []NeedFlag
	payloads []any
	hangups  []string
}

func (f *fakeOwner) QueueControl(n NeedFlag, data any) {
	f.controls = append(f.controls, n)
	f.payloads = append(f.payloads, data)
}

func (f *fakeOwner) SoftHangup(reason string) {
	f.hangups = append(f.hangups, reason)
}

func threeWayTestPort(t *testing.T) *Port {
	t.Helper()
	p := newTestPort(t, 1, LawMu)
	p.State = StateUp
	p.Flags.ThreeWayCalling = true
	p.sub[SubReal].Owner = &fakeOwner{}
	return p
}

// TestThreeWayFlashSequenceBuildsThenCollapses drives the literal flash
// sequence of the three-way boundary scenario: first flash opens the
// THREEWAY leg, second flash (after the third party is dialed) builds a
// single conference out of both legs, third flash drops the most recently
// added leg and returns the topology to REAL alone.
func TestThreeWayFlashSequenceBuildsThenCollapses(t *testing.T) {
	cm := NewConferenceManager()
	tc := NewThreeWayController(cm)
	p := threeWayTestPort(t)
	realOwner := p.Sub(SubReal).Owner.(*fakeOwner)

	alloc := func() (Device, error) { return OpenSoftDevice(p.Law) }

	require.NoError(t, tc.OnFlash(p, alloc))
	tw := p.Sub(SubThreeWay)
	require.NotNil(t, tw)
	assert.False(t, tw.InThreeWay)

	require.NoError(t, tc.OnFlash(p, alloc))
	assert.True(t, tw.InThreeWay)
	assert.True(t, p.Sub(SubReal).InThreeWay)
	assert.Contains(t, realOwner.controls, NeedUnhold)

	require.NoError(t, tc.OnFlash(p, alloc))
	assert.Nil(t, p.Sub(SubThreeWay))
	assert.Equal(t, SubReal, p.Active())
	assert.False(t, p.Sub(SubReal).InThreeWay)
}

// TestThreeWayDumpsIncompleteCallWhenOriginalPartyGone covers §4.7 rule 3c:
// if the REAL party drops out before the third party is conferenced in, the
// next flash tears down the half-built THREEWAY leg instead of building a
// conference with nobody on the other side.
func TestThreeWayDumpsIncompleteCallWhenOriginalPartyGone(t *testing.T) {
	cm := NewConferenceManager()
	tc := NewThreeWayController(cm)
	p := threeWayTestPort(t)

	alloc := func() (Device, error) { return OpenSoftDevice(p.Law) }
	require.NoError(t, tc.OnFlash(p, alloc))
	require.NotNil(t, p.Sub(SubThreeWay))

	p.Sub(SubReal).Owner = nil

	require.NoError(t, tc.OnFlash(p, alloc))
	assert.Nil(t, p.Sub(SubThreeWay))
	assert.Equal(t, SubReal, p.Active())
}

func TestThreeWayCallWaitingSwapTogglesHoldNotifications(t *testing.T) {
	cm := NewConferenceManager()
	tc := NewThreeWayController(cm)
	p := threeWayTestPort(t)
	p.Flags.CallWaiting = true
	realOwner := p.Sub(SubReal).Owner.(*fakeOwner)

	cw, err := p.AllocateSub(SubCallWait, nil)
	require.NoError(t, err)
	cwOwner := &fakeOwner{}
	cw.Owner = cwOwner

	alloc := func() (Device, error) { return OpenSoftDevice(p.Law) }
	require.NoError(t, tc.OnFlash(p, alloc))

	assert.Equal(t, SubCallWait, p.Active())
	assert.Contains(t, realOwner.controls, NeedHold)
	assert.Contains(t, cwOwner.controls, NeedUnhold)
}

func TestThreeWayIgnoresFlashWhenNotUp(t *testing.T) {
	cm := NewConferenceManager()
	tc := NewThreeWayController(cm)
	p := threeWayTestPort(t)
	p.State = StateDown

	alloc := func() (Device, error) { return OpenSoftDevice(p.Law) }
	require.NoError(t, tc.OnFlash(p, alloc))
	assert.Nil(t, p.Sub(SubThreeWay))
}

func TestThreeWayAttemptTransfer(t *testing.T) {
	cm := NewConferenceManager()
	tc := NewThreeWayController(cm)
	p := threeWayTestPort(t)

	alloc := func() (Device, error) { return OpenSoftDevice(p.Law) }
	require.NoError(t, tc.OnFlash(p, alloc))

	tw := p.Sub(SubThreeWay)
	twOwner := &fakeOwner{}
	tw.Owner = twOwner
	p.FinalDialString = "5551212"

	assert.True(t, tc.AttemptTransfer(p))
	assert.Equal(t, []NeedFlag{NeedFlash}, twOwner.controls)
	assert.Equal(t, []any{"5551212"}, twOwner.payloads)
	assert.Equal(t, "", p.FinalDialString)
}

func TestThreeWayAttemptTransferFailsWithoutDialString(t *testing.T) {
	cm := NewConferenceManager()
	tc := NewThreeWayController(cm)
	p := threeWayTestPort(t)

	alloc := func() (Device, error) { return OpenSoftDevice(p.Law) }
	require.NoError(t, tc.OnFlash(p, alloc))
	assert.False(t, tc.AttemptTransfer(p))
}
