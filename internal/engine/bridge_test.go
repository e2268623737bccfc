package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bridgeTestPort(t *testing.T, channel int) *Port {
	t.Helper()
	p := newTestPort(t, channel, LawMu)
	p.sub[SubReal].Owner = &fakeOwner{}
	return p
}

func TestNativeBridgeRealToRealMakesPortBTheSlave(t *testing.T) {
	cm := NewConferenceManager()
	a := bridgeTestPort(t, 1)
	b := bridgeTestPort(t, 2)

	res, err := NativeBridge(cm, BridgeEnd{Port: a, Sub: SubReal}, BridgeEnd{Port: b, Sub: SubReal})
	require.NoError(t, err)
	assert.Equal(t, a, res.Master)
	assert.Equal(t, b, res.Slave)
	assert.True(t, a.InConference)
	slave, ok := a.SoleSlave()
	require.True(t, ok)
	assert.Equal(t, b, slave)
}

func TestNativeBridgeThreeWayLegBecomesMaster(t *testing.T) {
	cm := NewConferenceManager()
	a := bridgeTestPort(t, 1)
	b := bridgeTestPort(t, 2)
	tw, err := a.AllocateSub(SubThreeWay, a.Device())
	require.NoError(t, err)
	tw.Owner = &fakeOwner{}

	res, err := NativeBridge(cm, BridgeEnd{Port: a, Sub: SubThreeWay}, BridgeEnd{Port: b, Sub: SubReal})
	require.NoError(t, err)
	assert.Equal(t, a, res.Master)
	assert.Equal(t, b, res.Slave)
}

func TestNativeBridgeRejectsPseudoSignaling(t *testing.T) {
	cm := NewConferenceManager()
	a := bridgeTestPort(t, 1)
	b := bridgeTestPort(t, 2)
	b.Sig = SigPseudo

	_, err := NativeBridge(cm, BridgeEnd{Port: a, Sub: SubReal}, BridgeEnd{Port: b, Sub: SubReal})
	assert.ErrorIs(t, err, ErrBridgeFallback)
}

func TestNativeBridgeRejectsUnownedSubchannel(t *testing.T) {
	cm := NewConferenceManager()
	a := bridgeTestPort(t, 1)
	b := newTestPort(t, 2, LawMu) // no Owner set on REAL

	_, err := NativeBridge(cm, BridgeEnd{Port: a, Sub: SubReal}, BridgeEnd{Port: b, Sub: SubReal})
	assert.ErrorIs(t, err, ErrBridgeFallback)
}

func TestBreakBridgeUnlinksAndReenablesEchoCancel(t *testing.T) {
	cm := NewConferenceManager()
	a := bridgeTestPort(t, 1)
	b := bridgeTestPort(t, 2)

	res, err := NativeBridge(cm, BridgeEnd{Port: a, Sub: SubReal}, BridgeEnd{Port: b, Sub: SubReal})
	require.NoError(t, err)

	BreakBridge(cm, res)
	assert.False(t, a.InConference)
	assert.Equal(t, 0, a.SlaveCount())
	assert.True(t, a.Flags.EchoCancelOn)
	assert.True(t, b.Flags.EchoCancelOn)
}

func TestPortBridgeUsesActiveSubAsOwnEnd(t *testing.T) {
	cm := NewConferenceManager()
	a := bridgeTestPort(t, 1)
	b := bridgeTestPort(t, 2)
	tw, err := a.AllocateSub(SubThreeWay, a.Device())
	require.NoError(t, err)
	tw.Owner = &fakeOwner{}
	a.SetActive(SubThreeWay)

	res, err := a.Bridge(cm, b, SubReal)
	require.NoError(t, err)
	assert.Equal(t, a, res.Master)
	assert.Equal(t, b, res.Slave)
}

func TestShouldBreakTimeout(t *testing.T) {
	now := frozenNow()
	assert.True(t, ShouldBreak(BreakTimeout, now.Add(-time.Second), now))
	assert.False(t, ShouldBreak(BreakTimeout, now.Add(time.Second), now))
}

func TestShouldBreakOtherTriggersAlwaysBreak(t *testing.T) {
	now := frozenNow()
	assert.True(t, ShouldBreak(BreakOwnerChanged, now, now))
	assert.True(t, ShouldBreak(BreakSubIndexChanged, now, now))
}

func TestForwardDTMFPolicy(t *testing.T) {
	assert.True(t, ForwardDTMFPolicy(true))
	assert.False(t, ForwardDTMFPolicy(false))
}
