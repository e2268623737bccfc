package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEventDevice is a hand-rolled Device that serves a fixed byte stream to
// Read and a fixed Event queue to GetEvent, letting a test drive a Port
// through a ring->CID->answer sequence byte-exactly. SoftDevice's real
// portaudio backing cannot do this deterministically.
type fakeEventDevice struct {
	readBuf []byte
	readPos int
	events  []Event
	written []byte
}

func (f *fakeEventDevice) Close() error                           { return nil }
func (f *fakeEventDevice) Specify(channel int) error               { return nil }
func (f *fakeEventDevice) GetParams() (ChannelParams, error)        { return ChannelParams{}, nil }
func (f *fakeEventDevice) SetParams(ChannelParams) error            { return nil }
func (f *fakeEventDevice) SetBlocksize(n int) error                 { return nil }
func (f *fakeEventDevice) SetBufferPolicy(BufferPolicy) error       { return nil }
func (f *fakeEventDevice) SetLinear(bool) error                     { return nil }
func (f *fakeEventDevice) SetLaw(Law) error                         { return nil }
func (f *fakeEventDevice) SetGains(GainTable) error                 { return nil }
func (f *fakeEventDevice) Hook(HookOp) error                        { return nil }
func (f *fakeEventDevice) Dial(DialOp) error                        { return nil }
func (f *fakeEventDevice) Tone(index int, stop bool) error          { return nil }
func (f *fakeEventDevice) ToneDetect(on, mute bool) error           { return nil }
func (f *fakeEventDevice) RingCadence(RingCadence) error            { return nil }
func (f *fakeEventDevice) AudioMode(bool) error                     { return nil }
func (f *fakeEventDevice) EchoCancelParams(EchoCancelParams) error  { return nil }
func (f *fakeEventDevice) EchoCancelDisable() error                 { return nil }
func (f *fakeEventDevice) EchoTrain(ms int) error                   { return nil }
func (f *fakeEventDevice) ConfMute(bool) error                      { return nil }
func (f *fakeEventDevice) ConfGet() (ConferenceDescriptor, error)   { return ConferenceDescriptor{}, nil }
func (f *fakeEventDevice) ConfSet(ConferenceDescriptor) error       { return nil }
func (f *fakeEventDevice) SpanStat(span int) (SpanStatus, error)    { return SpanStatus{}, nil }
func (f *fakeEventDevice) Loopback(bool) error                      { return nil }
func (f *fakeEventDevice) OnHookTransfer(ms int) error              { return nil }
func (f *fakeEventDevice) VMWI(count int) error                     { return nil }
func (f *fakeEventDevice) Write(buf []byte) (int, error) {
	f.written = append(f.written, buf...)
	return len(buf), nil
}

func (f *fakeEventDevice) GetEvent() (Event, error) {
	if len(f.events) == 0 {
		return Event{Kind: EventNone}, nil
	}
	ev := f.events[0]
	f.events = f.events[1:]
	return ev, nil
}

func (f *fakeEventDevice) Read(buf []byte) (int, error) {
	if f.readPos >= len(f.readBuf) {
		return 0, nil
	}
	n := copy(buf, f.readBuf[f.readPos:])
	f.readPos += n
	return n, nil
}

func TestMatchCadenceWildcardField(t *testing.T) {
	tmpl := CadenceTemplate{
		Slots:   []CadenceSlot{{OnMS: 800, OffMS: -1}, {OnMS: 400, OffMS: 400}},
		RangeMS: 50,
	}
	assert.True(t, matchCadence(tmpl, []CadenceSlot{{OnMS: 820, OffMS: 9999}, {OnMS: 380, OffMS: 420}}))
}

func TestMatchCadenceOutOfToleranceFails(t *testing.T) {
	tmpl := CadenceTemplate{
		Slots:   []CadenceSlot{{OnMS: 800, OffMS: 400}},
		RangeMS: 50,
	}
	assert.False(t, matchCadence(tmpl, []CadenceSlot{{OnMS: 900, OffMS: 400}}))
}

func TestMatchCadenceTemplatesPicksFirstMatch(t *testing.T) {
	templates := []CadenceTemplate{
		{Context: "dring1", Slots: []CadenceSlot{{OnMS: 200, OffMS: 200}}, RangeMS: 20},
		{Context: "dring2", Slots: []CadenceSlot{{OnMS: 800, OffMS: 400}}, RangeMS: 50},
	}
	idx := matchCadenceTemplates(templates, []CadenceSlot{{OnMS: 810, OffMS: 390}})
	require.Equal(t, 1, idx)
}

func TestMatchCadenceTemplatesNoMatch(t *testing.T) {
	templates := []CadenceTemplate{
		{Slots: []CadenceSlot{{OnMS: 200, OffMS: 200}}, RangeMS: 20},
	}
	idx := matchCadenceTemplates(templates, []CadenceSlot{{OnMS: 900, OffMS: 900}})
	assert.Equal(t, -1, idx)
}

// TestFXSCallerIDEndToEnd drives a ring->CID->answer sequence: the fake
// device serves a Bell-202 spill waveform, CollectFXSCallerID decodes it
// into Port.CID, matching §8 boundary scenario 1.
func TestFXSCallerIDEndToEnd(t *testing.T) {
	wave, err := CIDWaveform(LawMu, CIDSignalingBell, CIDMessage{Number: "5551234567", Name: "JANE DOE"})
	require.NoError(t, err)

	dev := &fakeEventDevice{readBuf: wave}
	p := NewPort(1, 0, LawMu, SigFXSLoopstart, dev)
	p.State = StateRing
	p.CIDSignaling = CIDSignalingBell

	c := NewDigitCollector(nil, nil, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, c.CollectFXSCallerID(ctx, p))
	assert.Equal(t, "5551234567", p.CID.Number)
	assert.Equal(t, "JANE DOE", p.CID.Name)
}

func TestFXSCallerIDDTMFHeader(t *testing.T) {
	p := NewPort(1, 0, LawMu, SigFXSLoopstart, &fakeEventDevice{})
	p.State = StateRing
	p.CIDSignaling = CIDSignalingDTMF

	c := NewDigitCollector(nil, nil, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.CollectFXSCallerID(ctx, p) }()

	// Wait for the worker's StartDigitCollection to install the channel
	// before pushing, since PushDigit silently drops when none is open.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		p.Lock()
		ready := p.digitCh != nil
		p.Unlock()
		if ready {
			break
		}
		time.Sleep(time.Millisecond)
	}
	for _, r := range "A5551234567C" {
		p.PushDigit(r)
	}

	require.NoError(t, <-done)
	assert.Equal(t, "5551234567", p.CID.Number)
}
