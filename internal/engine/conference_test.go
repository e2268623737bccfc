package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPort(t *testing.T, channel int, law Law) *Port {
	t.Helper()
	dev, err := OpenSoftDevice(law)
	require.NoError(t, err)
	return NewPort(channel, 0, law, SigFXSLoopstart, dev)
}

func TestConferenceManagerSlaveNativeForSoleMatchingSlave(t *testing.T) {
	cm := NewConferenceManager()
	master := newTestPort(t, 1, LawMu)
	slave := newTestPort(t, 2, LawMu)
	require.True(t, master.AddSlave(slave))

	cm.Update(master)

	real := slave.Sub(SubReal)
	require.True(t, real.ConfValid())
	assert.Equal(t, ConfDigitalMonitor, real.CachedConf.Mode)
	assert.Equal(t, master.Channel, real.CachedConf.DeviceChannel)
	assert.Equal(t, 0, master.ConfNo, "slave-native mode should not allocate a hardware conference number")
}

func TestConferenceManagerFallsBackToHardwareConfOnLawMismatch(t *testing.T) {
	cm := NewConferenceManager()
	master := newTestPort(t, 1, LawMu)
	slave := newTestPort(t, 2, LawA)
	require.True(t, master.AddSlave(slave))

	cm.Update(master)

	real := slave.Sub(SubReal)
	require.True(t, real.ConfValid())
	assert.Equal(t, ConfTalkerListener, real.CachedConf.Mode)
	assert.NotEqual(t, 0, master.ConfNo)
}

func TestConferenceManagerMultipleSlavesUseHardwareConf(t *testing.T) {
	cm := NewConferenceManager()
	master := newTestPort(t, 1, LawMu)
	s1 := newTestPort(t, 2, LawMu)
	s2 := newTestPort(t, 3, LawMu)
	require.True(t, master.AddSlave(s1))
	require.True(t, master.AddSlave(s2))

	cm.Update(master)

	assert.NotEqual(t, 0, master.ConfNo)
	assert.Equal(t, ConfTalkerListener, s1.Sub(SubReal).CachedConf.Mode)
	assert.Equal(t, ConfTalkerListener, s2.Sub(SubReal).CachedConf.Mode)
	assert.Equal(t, master.ConfNo, s1.Sub(SubReal).CachedConf.ConfNo)
	assert.Equal(t, master.ConfNo, s2.Sub(SubReal).CachedConf.ConfNo)
}

func TestConferenceManagerReleasesConfNoWhenNoParticipants(t *testing.T) {
	cm := NewConferenceManager()
	master := newTestPort(t, 1, LawMu)
	slave := newTestPort(t, 2, LawA) // mismatched law forces a real conf number
	require.True(t, master.AddSlave(slave))
	cm.Update(master)
	require.NotEqual(t, 0, master.ConfNo)

	master.RemoveSlave(slave)
	cm.Update(master)
	assert.Equal(t, 0, master.ConfNo)
}

func TestConferenceManagerThreeWaySubchannelJoinsConference(t *testing.T) {
	cm := NewConferenceManager()
	p := newTestPort(t, 1, LawMu)
	tw, err := p.AllocateSub(SubThreeWay, p.Device())
	require.NoError(t, err)
	tw.InThreeWay = true

	cm.Update(p)

	assert.NotEqual(t, 0, p.ConfNo)
	assert.Equal(t, ConfTalkerListener, tw.CachedConf.Mode)
	assert.Equal(t, p.ConfNo, tw.CachedConf.ConfNo)
}

func TestConferenceManagerSaveRestoreRoundTrip(t *testing.T) {
	cm := NewConferenceManager()
	p := newTestPort(t, 1, LawMu)
	real := p.Sub(SubReal)
	real.SetConf(ConferenceDescriptor{Mode: ConfTalkerListener, ConfNo: 7, DeviceChannel: p.Channel})

	cm.SaveConference(p)
	real.ClearConf()
	require.False(t, real.ConfValid())

	cm.RestoreConference(p)
	assert.True(t, real.ConfValid())
	assert.Equal(t, 7, real.CachedConf.ConfNo)
}
