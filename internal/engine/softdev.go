package engine

// Software device backend.
//
// A Device implementation backed by a sound-card stream instead of a
// /dev/tdmchan/* ioctl file descriptor, for running the engine against a
// softphone line or a bench setup with no TDM hardware present. Verbs that
// only make sense against real telephony silicon (conferencing, gain-table
// rewrite, echo-cancel DSP, tone generation/detection) are accepted and do
// nothing; Hook is the one line verb with an effect, queuing the matching
// offhook or on-hook event for GetEvent. Voice I/O rides
// github.com/gordonklaus/portaudio, declared in go.mod for exactly this
// "no real hardware in front of me" situation.

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const softDevFramesPerBuffer = 160 // 20ms at 8kHz

// SoftDevice is a Device whose REAL sub-channel rides a portaudio stream.
type SoftDevice struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	law    Law
	linear bool

	inBuf  []int16
	outBuf []int16

	events chan Event
}

// OpenSoftDevice opens the default input/output devices at 8kHz mono,
// the sample rate every other verb in this package assumes.
func OpenSoftDevice(law Law) (*SoftDevice, error) {
	d := &SoftDevice{
		law:    law,
		inBuf:  make([]int16, softDevFramesPerBuffer),
		outBuf: make([]int16, softDevFramesPerBuffer),
		events: make(chan Event, 16),
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("softdev: portaudio init: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 1, 8000, softDevFramesPerBuffer, d.inBuf, d.outBuf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("softdev: open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("softdev: start stream: %w", err)
	}
	d.stream = stream
	return d, nil
}

func (d *SoftDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.stream.Close()
	_ = portaudio.Terminate()
	return err
}

func (d *SoftDevice) Specify(channel int) error { return nil }

func (d *SoftDevice) GetParams() (ChannelParams, error) {
	return ChannelParams{Law: int32(d.law)}, nil
}

func (d *SoftDevice) SetParams(p ChannelParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.law = Law(p.Law)
	return nil
}

func (d *SoftDevice) SetBlocksize(n int) error      { return nil }
func (d *SoftDevice) SetBufferPolicy(BufferPolicy) error { return nil }

func (d *SoftDevice) SetLinear(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linear = on
	return nil
}

func (d *SoftDevice) SetLaw(l Law) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.law = l
	return nil
}

func (d *SoftDevice) SetGains(GainTable) error { return nil }

func (d *SoftDevice) Hook(op HookOp) error {
	switch op {
	case HookOff:
		d.events <- Event{Kind: EventRingOffhook}
	case HookOn:
		d.events <- Event{Kind: EventOnhook}
	}
	return nil
}

func (d *SoftDevice) Dial(DialOp) error { return nil }

func (d *SoftDevice) Tone(index int, stop bool) error { return nil }

func (d *SoftDevice) ToneDetect(on, mute bool) error { return nil }

func (d *SoftDevice) RingCadence(RingCadence) error { return nil }

func (d *SoftDevice) AudioMode(bool) error { return nil }

func (d *SoftDevice) EchoCancelParams(EchoCancelParams) error { return nil }

func (d *SoftDevice) EchoCancelDisable() error { return nil }

func (d *SoftDevice) EchoTrain(ms int) error { return nil }

func (d *SoftDevice) ConfMute(bool) error { return nil }

func (d *SoftDevice) ConfGet() (ConferenceDescriptor, error) { return ConferenceDescriptor{}, nil }

func (d *SoftDevice) ConfSet(ConferenceDescriptor) error { return nil }

func (d *SoftDevice) GetEvent() (Event, error) {
	select {
	case ev := <-d.events:
		return ev, nil
	default:
		return Event{Kind: EventNone}, nil
	}
}

func (d *SoftDevice) SpanStat(span int) (SpanStatus, error) {
	return SpanStatus{Channels: 1}, nil
}

func (d *SoftDevice) Loopback(bool) error { return nil }

func (d *SoftDevice) OnHookTransfer(ms int) error { return nil }

func (d *SoftDevice) VMWI(count int) error { return nil }

// Read pulls one buffer from the input stream and encodes it per the
// current law, matching the byte-oriented Device.Read contract.
func (d *SoftDevice) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.stream.Read(); err != nil {
		return 0, fmt.Errorf("softdev: read: %w", err)
	}
	n := len(d.inBuf)
	if n > len(buf) {
		n = len(buf)
	}
	if d.linear {
		for i := 0; i < n/2; i++ {
			buf[2*i] = byte(d.inBuf[i])
			buf[2*i+1] = byte(d.inBuf[i] >> 8)
		}
		return (n / 2) * 2, nil
	}
	for i := 0; i < n; i++ {
		buf[i] = EncodeSample(d.law, d.inBuf[i])
	}
	return n, nil
}

// Write decodes buf per the current law and pushes it to the output
// stream.
func (d *SoftDevice) Write(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(buf)
	if n > len(d.outBuf) {
		n = len(d.outBuf)
	}
	for i := 0; i < n; i++ {
		d.outBuf[i] = DecodeSample(d.law, buf[i])
	}
	if err := d.stream.Write(); err != nil {
		return 0, fmt.Errorf("softdev: write: %w", err)
	}
	return n, nil
}
