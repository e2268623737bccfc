package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMailbox struct {
	hasNew  bool
	changed bool
	err     error
	queried []string
}

func (f *fakeMailbox) HasNewMessages(mailbox string) (bool, bool, error) {
	f.queried = append(f.queried, mailbox)
	return f.hasNew, f.changed, f.err
}

func monitorTestPort(t *testing.T, channel int, sig SigVariant) *Port {
	t.Helper()
	p := newTestPort(t, channel, LawMu)
	p.Sig = sig
	return p
}

func TestMonitorPollOneFXORingOffhookImmediateAnswer(t *testing.T) {
	registry := NewRegistry()
	p := monitorTestPort(t, 1, SigFXOLoopstart)
	registry.Add(p)

	analog := NewAnalogEventHandler(NewConferenceManager())
	m := NewMonitor(registry, analog, nil, nil, NewConferenceManager())
	m.SetImmediate(p.Channel, true)

	require.NoError(t, p.Device().Hook(HookOff))
	m.pollOne(p)

	assert.Equal(t, StateUp, p.State)
	assert.True(t, p.Flags.EchoCancelOn)
}

func TestMonitorPollOneSkipsOwnedSubchannel(t *testing.T) {
	registry := NewRegistry()
	p := monitorTestPort(t, 1, SigFXOLoopstart)
	p.sub[SubReal].Owner = &fakeOwner{}
	registry.Add(p)

	candidates := NewMonitor(registry, nil, nil, nil, nil).pollCandidates()
	assert.Empty(t, candidates, "a Port with an owned active sub-channel is not pollable")
}

func TestMonitorPollOneSkipsDigitalAndPseudoSig(t *testing.T) {
	registry := NewRegistry()
	pri := monitorTestPort(t, 1, SigPRI)
	pseudo := monitorTestPort(t, 2, SigPseudo)
	registry.Add(pri)
	registry.Add(pseudo)

	candidates := NewMonitor(registry, nil, nil, nil, nil).pollCandidates()
	assert.Empty(t, candidates)
}

func TestMonitorVisitNextMailboxRequiresMinimumOnHookDwell(t *testing.T) {
	registry := NewRegistry()
	p := monitorTestPort(t, 1, SigFXOLoopstart)
	p.Mailbox = "101"
	p.OnHookTime = frozenNow()
	registry.Add(p)

	mailbox := &fakeMailbox{hasNew: true, changed: true}
	m := NewMonitor(registry, nil, nil, mailbox, NewConferenceManager())

	m.visitNextMailbox([]*Port{p})
	assert.Empty(t, mailbox.queried, "a Port that just went on-hook has not cleared the minimum dwell")
}

func TestMonitorVisitNextMailboxSkipsPortsWithoutMailbox(t *testing.T) {
	registry := NewRegistry()
	p := monitorTestPort(t, 1, SigFXOLoopstart)
	registry.Add(p)

	mailbox := &fakeMailbox{hasNew: true, changed: true}
	m := NewMonitor(registry, nil, nil, mailbox, NewConferenceManager())

	m.visitNextMailbox([]*Port{p})
	assert.Empty(t, mailbox.queried)
}

func TestMonitorVisitNextMailboxAdvancesCursorOnIneligiblePort(t *testing.T) {
	registry := NewRegistry()
	p1 := monitorTestPort(t, 1, SigFXOLoopstart) // no mailbox configured, ineligible
	p2 := monitorTestPort(t, 2, SigFXOLoopstart)
	p2.Mailbox = "102"
	p2.OnHookTime = frozenNow().Add(-mailboxMinOnHook * 2)
	registry.Add(p1)
	registry.Add(p2)

	mailbox := &fakeMailbox{hasNew: false, changed: true}
	m := NewMonitor(registry, nil, nil, mailbox, NewConferenceManager())

	m.visitNextMailbox([]*Port{p1, p2})
	assert.Equal(t, []string{"102"}, mailbox.queried)
}

// TestMonitorPollOneFXSRingDispatchesCallerIDNotDigitCollection covers §8
// boundary scenario 1: an FXS ring must spawn the Caller-ID collection
// path, not the FXO dial-prefix/digit-matching worker CollectFXO runs.
func TestMonitorPollOneFXSRingDispatchesCallerIDNotDigitCollection(t *testing.T) {
	wave, err := CIDWaveform(LawMu, CIDSignalingBell, CIDMessage{Number: "5559876543"})
	require.NoError(t, err)

	dev := &fakeEventDevice{
		readBuf: wave,
		events:  []Event{{Kind: EventRingOffhook}},
	}
	p := NewPort(1, 0, LawMu, SigFXSLoopstart, dev)
	p.CIDSignaling = CIDSignalingBell
	registry := NewRegistry()
	registry.Add(p)

	analog := NewAnalogEventHandler(NewConferenceManager())
	digit := NewDigitCollector(nil, nil, nil, nil, nil)
	m := NewMonitor(registry, analog, digit, nil, NewConferenceManager())

	m.pollOne(p)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.Lock()
		got := p.CID.Number
		p.Unlock()
		if got != "" {
			break
		}
		time.Sleep(time.Millisecond)
	}

	p.Lock()
	defer p.Unlock()
	assert.Equal(t, "5559876543", p.CID.Number)
}

func TestSampleEnergyEmptyBufferIsZero(t *testing.T) {
	assert.Equal(t, int64(0), sampleEnergy(LawMu, nil))
}
