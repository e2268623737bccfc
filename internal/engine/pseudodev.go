package engine

// Pseudo sub-channel device.
//
// CALLWAIT and THREEWAY sub-channels are allocated "on demand" against a
// pseudo device per spec §3 Lifecycle; on real hardware that is a second
// open of /dev/tdmchan/pseudo. Off real hardware (tests, the software
// backend) this module hands out a github.com/creack/pty master/slave pair
// instead: the slave end behaves enough like a plain byte-oriented fd for
// the digit-collection and bridge paths to treat it identically to a
// hardware pseudo channel, without needing a second real B-channel.
import (
	"fmt"
	"os"

	"github.com/creack/pty"
)

// PseudoDevice is a Device backed by one side of a pty pair, used in place
// of a second ioctl open when no hardware pseudo device exists.
type PseudoDevice struct {
	master, slave *os.File
	law           Law
}

// OpenPseudoDevice allocates a fresh pty pair for one CALLWAIT/THREEWAY
// sub-channel.
func OpenPseudoDevice(law Law) (*PseudoDevice, error) {
	master, slave, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("pseudodev: open pty: %w", err)
	}
	return &PseudoDevice{master: master, slave: slave, law: law}, nil
}

func (d *PseudoDevice) Close() error {
	_ = d.slave.Close()
	return d.master.Close()
}

func (d *PseudoDevice) Specify(channel int) error                { return nil }
func (d *PseudoDevice) GetParams() (ChannelParams, error)        { return ChannelParams{Law: int32(d.law)}, nil }
func (d *PseudoDevice) SetParams(ChannelParams) error             { return nil }
func (d *PseudoDevice) SetBlocksize(n int) error                  { return nil }
func (d *PseudoDevice) SetBufferPolicy(BufferPolicy) error        { return nil }
func (d *PseudoDevice) SetLinear(bool) error                      { return nil }
func (d *PseudoDevice) SetLaw(l Law) error                        { d.law = l; return nil }
func (d *PseudoDevice) SetGains(GainTable) error                  { return nil }
func (d *PseudoDevice) Hook(HookOp) error                         { return nil }
func (d *PseudoDevice) Dial(DialOp) error                         { return nil }
func (d *PseudoDevice) Tone(index int, stop bool) error           { return nil }
func (d *PseudoDevice) ToneDetect(on, mute bool) error            { return nil }
func (d *PseudoDevice) RingCadence(RingCadence) error             { return nil }
func (d *PseudoDevice) AudioMode(bool) error                      { return nil }
func (d *PseudoDevice) EchoCancelParams(EchoCancelParams) error   { return nil }
func (d *PseudoDevice) EchoCancelDisable() error                  { return nil }
func (d *PseudoDevice) EchoTrain(ms int) error                    { return nil }
func (d *PseudoDevice) ConfMute(bool) error                       { return nil }
func (d *PseudoDevice) ConfGet() (ConferenceDescriptor, error)    { return ConferenceDescriptor{}, nil }
func (d *PseudoDevice) ConfSet(ConferenceDescriptor) error        { return nil }
func (d *PseudoDevice) GetEvent() (Event, error)                  { return Event{Kind: EventNone}, nil }
func (d *PseudoDevice) SpanStat(span int) (SpanStatus, error)     { return SpanStatus{}, nil }
func (d *PseudoDevice) Loopback(bool) error                       { return nil }
func (d *PseudoDevice) OnHookTransfer(ms int) error                { return nil }
func (d *PseudoDevice) VMWI(count int) error                      { return nil }

// Read and Write pass bytes through the pty's master side untouched: the
// pseudo channel carries already law-encoded bytes, just as the real
// hardware pseudo device does.
func (d *PseudoDevice) Read(buf []byte) (int, error)  { return d.master.Read(buf) }
func (d *PseudoDevice) Write(buf []byte) (int, error) { return d.master.Write(buf) }

// Slave exposes the pty slave fd, which a conference participant reads
// from/writes to as if it were the other end of a hardware pseudo channel.
func (d *PseudoDevice) Slave() *os.File { return d.slave }
