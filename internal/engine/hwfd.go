package engine

// Hardware FD abstraction, spec §4.1 / §6.1.
//
// One file descriptor is opened per B-channel plus one per D-channel against
// a device node under /dev/tdmchan/channelN or /dev/tdmchan/pseudo. Every
// verb is a synchronous ioctl; EINPROGRESS is folded into success for hook
// and dial paths (§7 Hardware-transient).
//
// The ioctl request-number encoding below follows the Linux _IOC convention
// the way github.com/daedaluz/goioctl encodes it (direction|size|type|nr
// packed into a uintptr) and is issued through golang.org/x/sys/unix, the
// same dependency the pack's BigBossBoolingB-VDATABPro core_engine uses for
// its device layer.

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14
	iocDirBits  = 2

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func iocEncode(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

func iocW(typ byte, nr uintptr, size uintptr) uintptr {
	return iocEncode(iocWrite, uintptr(typ), nr, size)
}

func iocR(typ byte, nr uintptr, size uintptr) uintptr {
	return iocEncode(iocRead, uintptr(typ), nr, size)
}

func iocWR(typ byte, nr uintptr, size uintptr) uintptr {
	return iocEncode(iocWrite|iocRead, uintptr(typ), nr, size)
}

// Verb identifies one ioctl entry point of the hardware abstraction.
type Verb int

const (
	VerbSpecify Verb = iota
	VerbGetParams
	VerbSetParams
	VerbSetBlocksize
	VerbSetBufferPolicy
	VerbSetLinear
	VerbSetLaw
	VerbSetGains
	VerbHook
	VerbDial
	VerbTone
	VerbToneDetect
	VerbRingCadence
	VerbAudioMode
	VerbEchoCancelParams
	VerbEchoCancelDisable
	VerbEchoTrain
	VerbConfMute
	VerbConfGet
	VerbConfSet
	VerbGetEvent
	VerbIomuxWait
	VerbSpanStat
	VerbLoopback
	VerbOnHookTransfer
	VerbVMWI
	VerbGetHWGain
	VerbSetHWGain
)

const tdmMagic = 'T'

var verbRequest = map[Verb]uintptr{
	VerbSpecify:           iocW(tdmMagic, 1, unsafe.Sizeof(int32(0))),
	VerbGetParams:         iocR(tdmMagic, 2, unsafe.Sizeof(ChannelParams{})),
	VerbSetParams:         iocW(tdmMagic, 3, unsafe.Sizeof(ChannelParams{})),
	VerbSetBlocksize:      iocW(tdmMagic, 4, unsafe.Sizeof(int32(0))),
	VerbSetBufferPolicy:   iocW(tdmMagic, 5, unsafe.Sizeof(BufferPolicy{})),
	VerbSetLinear:         iocW(tdmMagic, 6, unsafe.Sizeof(int32(0))),
	VerbSetLaw:            iocW(tdmMagic, 7, unsafe.Sizeof(int32(0))),
	VerbSetGains:          iocW(tdmMagic, 8, unsafe.Sizeof(GainTable{})),
	VerbHook:              iocW(tdmMagic, 9, unsafe.Sizeof(int32(0))),
	VerbDial:              iocW(tdmMagic, 10, unsafe.Sizeof(DialOp{})),
	VerbTone:              iocW(tdmMagic, 11, unsafe.Sizeof(int32(0))),
	VerbToneDetect:        iocW(tdmMagic, 12, unsafe.Sizeof(int32(0))),
	VerbRingCadence:       iocW(tdmMagic, 13, unsafe.Sizeof(RingCadence{})),
	VerbAudioMode:         iocW(tdmMagic, 14, unsafe.Sizeof(int32(0))),
	VerbEchoCancelParams:  iocW(tdmMagic, 15, unsafe.Sizeof(EchoCancelParams{})),
	VerbEchoCancelDisable: iocW(tdmMagic, 16, unsafe.Sizeof(int32(0))),
	VerbEchoTrain:         iocW(tdmMagic, 17, unsafe.Sizeof(int32(0))),
	VerbConfMute:          iocW(tdmMagic, 18, unsafe.Sizeof(int32(0))),
	VerbConfGet:           iocR(tdmMagic, 19, unsafe.Sizeof(ConferenceDescriptor{})),
	VerbConfSet:           iocWR(tdmMagic, 20, unsafe.Sizeof(ConferenceDescriptor{})),
	VerbGetEvent:          iocR(tdmMagic, 21, unsafe.Sizeof(int32(0))),
	VerbIomuxWait:         iocWR(tdmMagic, 22, unsafe.Sizeof(int32(0))),
	VerbSpanStat:          iocR(tdmMagic, 23, unsafe.Sizeof(SpanStatus{})),
	VerbLoopback:          iocW(tdmMagic, 24, unsafe.Sizeof(int32(0))),
	VerbOnHookTransfer:    iocW(tdmMagic, 25, unsafe.Sizeof(int32(0))),
	VerbVMWI:              iocW(tdmMagic, 26, unsafe.Sizeof(int32(0))),
	VerbGetHWGain:         iocR(tdmMagic, 27, unsafe.Sizeof(GainTable{})),
	VerbSetHWGain:         iocW(tdmMagic, 28, unsafe.Sizeof(GainTable{})),
}

// ChannelParams mirrors the GET_PARAMS/SET_PARAMS timing and identity
// fields of §6.1: prewink/preflash/wink/flash/start/rxwink/rxflash/debounce
// plus hook state, law, sigtype, channel position, span, and alarm bits.
type ChannelParams struct {
	PreWinkMS, PreFlashMS, WinkMS, FlashMS, StartMS int32
	RxWinkMS, RxFlashMS, DebounceMS                 int32
	HookState                                       int32
	Law                                             int32
	SigType                                         int32
	ChannelPosition                                 int32
	Span                                            int32
	Alarms                                          int32
}

// BufferPolicy mirrors GET_BUFINFO/SET_BUFINFO.
type BufferPolicy struct {
	TxImmediate bool
	RxImmediate bool
	NumBufs     int32
}

// GainTable is the per-direction lookup-table rewrite used by the gain &
// law tables component (§2.2) instead of per-sample multiplication.
type GainTable struct {
	Rx [256]byte
	Tx [256]byte
}

// DialOp mirrors the DIAL ioctl, op one of DialReplace/DialAppend.
type DialOp struct {
	Op     DialOpKind
	Digits string
}

// DialOpKind distinguishes DIAL REPLACE from APPEND.
type DialOpKind int

const (
	DialReplace DialOpKind = iota
	DialAppend
)

// RingCadence mirrors SETCADENCE: a list of (on,off) millisecond pairs.
type RingCadence struct {
	Pairs []CadenceSlot
}

// EchoCancelParams is the bounded (name,value) vector of spec §9's
// "Echo-cancel parameter list" design note, carried inline rather than as
// heap-allocated strings beyond the device's MAX_ECHOCANPARAMS.
type EchoCancelParams struct {
	TapLength int32
	Params    [8]EchoCancelParam
	NumParams int32
}

// EchoCancelParam is one bounded (name,value) pair.
type EchoCancelParam struct {
	Name  [16]byte
	Value int32
}

// ConferenceDescriptor mirrors GETCONF/SETCONF, spec §3 Conference descriptor.
type ConferenceDescriptor struct {
	Mode          ConfMode
	ConfNo        int
	DeviceChannel int
}

// SpanStatus mirrors SPANSTAT.
type SpanStatus struct {
	Alarms   int32
	Channels int32
	LineCfg  int32
}

// HookOp distinguishes the HOOK ioctl's sub-operations.
type HookOp int

const (
	HookOn HookOp = iota
	HookOff
	HookWink
	HookFlash
	HookStart
	HookRing
	HookRingOff
)

// Event is one decoded GETEVENT result, spec §4.6/§4.9/§4.10/§4.11 drivers.
type Event struct {
	Kind    EventKind
	Channel int
	Data    int
}

// EventKind enumerates the event types GETEVENT can return.
type EventKind int

const (
	EventNone EventKind = iota
	EventRingOffhook
	EventOnhook
	EventWinkFlash
	EventPolarityReversal
	EventDialComplete
	EventAlarm
	EventNoAlarm
	EventDTMFDown
	EventDTMFUp
	EventPulseDigit
	EventRingBegin
	EventRingerOn
	EventRingerOff
)

// Device is the hardware FD abstraction's public contract: every verb of
// §4.1, expressed as a Go interface so the engine can run identically
// against a real ioctl device, the portaudio-backed software device
// (softdev.go), or a test double.
type Device interface {
	Close() error
	Specify(channel int) error
	GetParams() (ChannelParams, error)
	SetParams(ChannelParams) error
	SetBlocksize(n int) error
	SetBufferPolicy(BufferPolicy) error
	SetLinear(bool) error
	SetLaw(Law) error
	SetGains(GainTable) error
	Hook(HookOp) error
	Dial(DialOp) error
	Tone(index int, stop bool) error
	ToneDetect(on, mute bool) error
	RingCadence(RingCadence) error
	AudioMode(bool) error
	EchoCancelParams(EchoCancelParams) error
	EchoCancelDisable() error
	EchoTrain(ms int) error
	ConfMute(bool) error
	ConfGet() (ConferenceDescriptor, error)
	ConfSet(ConferenceDescriptor) error
	GetEvent() (Event, error)
	SpanStat(span int) (SpanStatus, error)
	Loopback(bool) error
	OnHookTransfer(ms int) error
	VMWI(count int) error
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
}

// IoctlDevice is the production Device backed by a real /dev/tdmchan/*
// character device file descriptor.
type IoctlDevice struct {
	mu sync.Mutex
	fd int
}

// OpenIoctlDevice opens path (typically /dev/tdmchan/channel or
// /dev/tdmchan/pseudo) for the production hardware backend.
func OpenIoctlDevice(path string) (*IoctlDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, &HardwareError{Verb: "open", Kind: ErrHardwareFatal, Cause: err}
	}
	return &IoctlDevice{fd: fd}, nil
}

func (d *IoctlDevice) ioctl(verb Verb, argp unsafe.Pointer) error {
	req, ok := verbRequest[verb]
	if !ok {
		return fmt.Errorf("hwfd: unknown verb %d", verb)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(argp))
	return classifyIoctlError(verb, d.fd, errno)
}

// classifyIoctlError implements the failure semantics of §4.1/§7:
// EINPROGRESS is transient-success, EINVAL/ENOTTY are skip-and-log, anything
// else (notably ENODEV/EIO) is fatal.
func classifyIoctlError(verb Verb, channel int, errno unix.Errno) error {
	if errno == 0 {
		return nil
	}
	name := verbName(verb)
	switch errno {
	case unix.EINPROGRESS, unix.EAGAIN:
		return &HardwareError{Verb: name, Channel: channel, Kind: ErrHardwareTransient, Cause: errno}
	case unix.EINVAL, unix.ENOTTY:
		return &HardwareError{Verb: name, Channel: channel, Kind: ErrConfigFatal, Cause: errno}
	default:
		return &HardwareError{Verb: name, Channel: channel, Kind: ErrHardwareFatal, Cause: errno}
	}
}

var verbNames = map[Verb]string{
	VerbSpecify: "specify", VerbGetParams: "get_params", VerbSetParams: "set_params",
	VerbSetBlocksize: "set_blocksize", VerbSetBufferPolicy: "set_bufinfo",
	VerbSetLinear: "setlinear", VerbSetLaw: "setlaw", VerbSetGains: "setgains",
	VerbHook: "hook", VerbDial: "dial", VerbTone: "sendtone", VerbToneDetect: "tonedetect",
	VerbRingCadence: "setcadence", VerbAudioMode: "audiomode",
	VerbEchoCancelParams: "echocancel_params", VerbEchoCancelDisable: "echocancel_disable",
	VerbEchoTrain: "echotrain", VerbConfMute: "confmute", VerbConfGet: "getconf",
	VerbConfSet: "setconf", VerbGetEvent: "getevent", VerbIomuxWait: "iomux",
	VerbSpanStat: "spanstat", VerbLoopback: "loopback", VerbOnHookTransfer: "onhooktransfer",
	VerbVMWI: "vmwi", VerbGetHWGain: "get_hwgain", VerbSetHWGain: "set_hwgain",
}

func verbName(v Verb) string {
	if name, ok := verbNames[v]; ok {
		return name
	}
	return fmt.Sprintf("verb(%d)", int(v))
}

func (d *IoctlDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return unix.Close(d.fd)
}

func (d *IoctlDevice) Specify(channel int) error {
	v := int32(channel)
	return d.ioctl(VerbSpecify, unsafe.Pointer(&v))
}

func (d *IoctlDevice) GetParams() (ChannelParams, error) {
	var p ChannelParams
	err := d.ioctl(VerbGetParams, unsafe.Pointer(&p))
	return p, err
}

func (d *IoctlDevice) SetParams(p ChannelParams) error {
	return d.ioctl(VerbSetParams, unsafe.Pointer(&p))
}

func (d *IoctlDevice) SetBlocksize(n int) error {
	v := int32(n)
	return d.ioctl(VerbSetBlocksize, unsafe.Pointer(&v))
}

func (d *IoctlDevice) SetBufferPolicy(p BufferPolicy) error {
	return d.ioctl(VerbSetBufferPolicy, unsafe.Pointer(&p))
}

func (d *IoctlDevice) SetLinear(on bool) error {
	v := boolToInt32(on)
	return d.ioctl(VerbSetLinear, unsafe.Pointer(&v))
}

func (d *IoctlDevice) SetLaw(l Law) error {
	v := int32(l)
	return d.ioctl(VerbSetLaw, unsafe.Pointer(&v))
}

func (d *IoctlDevice) SetGains(g GainTable) error {
	return d.ioctl(VerbSetGains, unsafe.Pointer(&g))
}

func (d *IoctlDevice) Hook(op HookOp) error {
	v := int32(op)
	err := d.ioctl(VerbHook, unsafe.Pointer(&v))
	if IsTransient(err) {
		return nil
	}
	return err
}

func (d *IoctlDevice) Dial(op DialOp) error {
	err := d.ioctl(VerbDial, unsafe.Pointer(&op))
	if IsTransient(err) {
		return nil
	}
	return err
}

func (d *IoctlDevice) Tone(index int, stop bool) error {
	v := int32(index)
	if stop {
		v = -1
	}
	return d.ioctl(VerbTone, unsafe.Pointer(&v))
}

func (d *IoctlDevice) ToneDetect(on, mute bool) error {
	v := boolToInt32(on)
	if on && mute {
		v = 2
	}
	return d.ioctl(VerbToneDetect, unsafe.Pointer(&v))
}

func (d *IoctlDevice) RingCadence(c RingCadence) error {
	return d.ioctl(VerbRingCadence, unsafe.Pointer(&c))
}

func (d *IoctlDevice) AudioMode(on bool) error {
	v := boolToInt32(on)
	return d.ioctl(VerbAudioMode, unsafe.Pointer(&v))
}

func (d *IoctlDevice) EchoCancelParams(p EchoCancelParams) error {
	return d.ioctl(VerbEchoCancelParams, unsafe.Pointer(&p))
}

func (d *IoctlDevice) EchoCancelDisable() error {
	var v int32
	return d.ioctl(VerbEchoCancelDisable, unsafe.Pointer(&v))
}

func (d *IoctlDevice) EchoTrain(ms int) error {
	v := int32(ms)
	return d.ioctl(VerbEchoTrain, unsafe.Pointer(&v))
}

func (d *IoctlDevice) ConfMute(on bool) error {
	v := boolToInt32(on)
	return d.ioctl(VerbConfMute, unsafe.Pointer(&v))
}

func (d *IoctlDevice) ConfGet() (ConferenceDescriptor, error) {
	var c ConferenceDescriptor
	err := d.ioctl(VerbConfGet, unsafe.Pointer(&c))
	return c, err
}

func (d *IoctlDevice) ConfSet(c ConferenceDescriptor) error {
	return d.ioctl(VerbConfSet, unsafe.Pointer(&c))
}

func (d *IoctlDevice) GetEvent() (Event, error) {
	var raw int32
	if err := d.ioctl(VerbGetEvent, unsafe.Pointer(&raw)); err != nil {
		return Event{}, err
	}
	return decodeEvent(raw), nil
}

func (d *IoctlDevice) SpanStat(span int) (SpanStatus, error) {
	s := SpanStatus{}
	_ = span
	err := d.ioctl(VerbSpanStat, unsafe.Pointer(&s))
	return s, err
}

func (d *IoctlDevice) Loopback(on bool) error {
	v := boolToInt32(on)
	return d.ioctl(VerbLoopback, unsafe.Pointer(&v))
}

func (d *IoctlDevice) OnHookTransfer(ms int) error {
	v := int32(ms)
	return d.ioctl(VerbOnHookTransfer, unsafe.Pointer(&v))
}

func (d *IoctlDevice) VMWI(count int) error {
	v := int32(count)
	return d.ioctl(VerbVMWI, unsafe.Pointer(&v))
}

func (d *IoctlDevice) Read(buf []byte) (int, error) {
	return unix.Read(d.fd, buf)
}

func (d *IoctlDevice) Write(buf []byte) (int, error) {
	return unix.Write(d.fd, buf)
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// decodeEvent maps a raw GETEVENT code onto the EventKind sum type per
// spec §9's "Callback on library events" design note, applied here to the
// hardware event stream rather than the PRI/SS7 library callback streams
// (those have their own decoders in pri.go and ss7.go).
func decodeEvent(raw int32) Event {
	return Event{Kind: EventKind(raw & 0xff), Channel: int((raw >> 8) & 0xff), Data: int(raw >> 16)}
}
