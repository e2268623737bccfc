package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOperatorTestSetup(t *testing.T) (*OperatorInterface, *Registry, *Port) {
	t.Helper()
	registry := NewRegistry()
	p := newTestPort(t, 1, LawMu)
	p.Sig = SigFXOLoopstart
	p.Flags.InService = true
	registry.Add(p)

	cm := NewConferenceManager()
	three := NewThreeWayController(cm)
	op := NewOperatorInterface(registry, cm, three)
	return op, registry, p
}

func TestOperatorShowChannelsAllAndSingle(t *testing.T) {
	op, _, p := newOperatorTestSetup(t)
	p.CID.Number = "5551212"

	all := op.ShowChannels(0)
	require.Len(t, all, 1)
	assert.Equal(t, "5551212", all[0].CID)

	single := op.ShowChannels(p.Channel)
	require.Len(t, single, 1)
	assert.Equal(t, p.Channel, single[0].Channel)

	assert.Empty(t, op.ShowChannels(99))
}

func TestOperatorDialOffhookUnknownChannel(t *testing.T) {
	op, _, _ := newOperatorTestSetup(t)
	resp := op.DialOffhook(99, "5551212")
	assert.False(t, resp.OK)
	assert.Equal(t, 99, resp.Channel)
}

func TestOperatorDialOffhookSucceeds(t *testing.T) {
	op, _, p := newOperatorTestSetup(t)
	resp := op.DialOffhook(p.Channel, "5551212")
	assert.True(t, resp.OK)
	assert.Equal(t, StateDialingOffhook, p.State)
}

func TestOperatorHangupRequiresActiveCall(t *testing.T) {
	op, _, p := newOperatorTestSetup(t)
	resp := op.Hangup(p.Channel)
	assert.False(t, resp.OK)

	owner := &fakeOwner{}
	p.sub[SubReal].Owner = owner
	resp = op.Hangup(p.Channel)
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"operator hangup"}, owner.hangups)
}

func TestOperatorDNDToggle(t *testing.T) {
	op, _, p := newOperatorTestSetup(t)
	resp := op.DNDon(p.Channel)
	assert.True(t, resp.OK)
	assert.True(t, p.Flags.DND)

	resp = op.DNDoff(p.Channel)
	assert.True(t, resp.OK)
	assert.False(t, p.Flags.DND)
}

func TestOperatorTransferRequiresPendingThreeWay(t *testing.T) {
	op, _, p := newOperatorTestSetup(t)
	resp := op.Transfer(p.Channel)
	assert.False(t, resp.OK)
}

func TestOperatorRestartSoftHangsUpAndMarksResetting(t *testing.T) {
	op, _, p := newOperatorTestSetup(t)
	owner := &fakeOwner{}
	p.sub[SubReal].Owner = owner

	resp := op.Restart()
	assert.True(t, resp.OK)
	assert.Equal(t, []string{"operator restart"}, owner.hangups)
	assert.True(t, p.Flags.Resetting)
}
