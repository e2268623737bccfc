package engine

// Sub-channel, spec §3.
//
// A sub-channel is a file descriptor on the /pseudo device (or the real
// channel, for REAL), a short linear-PCM buffer with a friendly offset, one
// pre-filled outbound frame, eight single-bit "need X" pending
// notifications, a linear-mode flag, an in-three-way flag, and a cached
// conference descriptor.

// NeedFlag enumerates the eight single-bit pending notifications a
// sub-channel can carry toward its owner.
type NeedFlag int

const (
	NeedRing NeedFlag = 1 << iota
	NeedBusy
	NeedCongestion
	NeedCallerID
	NeedAnswer
	NeedFlash
	NeedHold
	NeedUnhold
)

// Owner is the PBX call handle a sub-channel serves. The engine treats it
// as an opaque, non-owning back-reference (spec §9 "Shared ownership of
// sub-channels"): the Port owns its sub-channels; the owner relation never
// flows the other way.
type Owner interface {
	// QueueControl delivers one deferred control notification (hold,
	// unhold, flash, busy, congestion, ring, answer, caller-id) to the
	// call currently riding this sub-channel.
	QueueControl(NeedFlag, any)
	// SoftHangup asks the owning call to end with the given reason,
	// without tearing down the Port itself.
	SoftHangup(reason string)
}

// Frame is one unit handed back from Port.Read: a deferred control
// notification, a decoded text frame (TDD), a voice frame, or an exception
// trigger signalled by a short device read.
type Frame struct {
	Kind FrameKind
	Need NeedFlag
	Text string
	Voice []byte
}

// FrameKind distinguishes the four Read outcomes of spec §4.2.
type FrameKind int

const (
	FrameControl FrameKind = iota
	FrameText
	FrameVoice
	FrameException
)

// Subchannel is one of a Port's three audio tracks.
type Subchannel struct {
	Index SubIndex
	Port  *Port

	dev Device

	Owner Owner

	buf       []int16 // short linear-PCM buffer
	bufOffset int

	outboundFrame []byte // single pre-filled outbound frame

	pending NeedFlag // bitset of the eight "need X" notifications

	Linear     bool
	InThreeWay bool

	CachedConf ConferenceDescriptor
	confValid  bool
}

// NewSubchannel allocates a sub-channel bound to dev (the real channel FD
// for REAL, or a pseudo-device FD for CALLWAIT/THREEWAY).
func NewSubchannel(port *Port, idx SubIndex, dev Device) *Subchannel {
	return &Subchannel{
		Index: idx,
		Port:  port,
		dev:   dev,
		buf:   make([]int16, 0, 320),
	}
}

// Pend records one deferred "need X" notification.
func (s *Subchannel) Pend(flag NeedFlag) {
	s.pending |= flag
}

// TakePending clears and returns the pending bitset, used by Read to decide
// whether a control Frame is due before voice.
func (s *Subchannel) TakePending() NeedFlag {
	p := s.pending
	s.pending = 0
	return p
}

// HasPending reports whether any "need X" notification is outstanding.
func (s *Subchannel) HasPending() bool {
	return s.pending != 0
}

// SetConf updates the cached conference descriptor. It is the single
// source of truth §8 invariant 3 checks: "S.curconf equals the last
// descriptor the device acknowledged."
func (s *Subchannel) SetConf(desc ConferenceDescriptor) {
	s.CachedConf = desc
	s.confValid = true
}

// ClearConf marks the cached descriptor as released.
func (s *Subchannel) ClearConf() {
	s.CachedConf = ConferenceDescriptor{}
	s.confValid = false
}

// ConfValid reports whether SetConf has ever been called without an
// intervening ClearConf.
func (s *Subchannel) ConfValid() bool {
	return s.confValid
}

// Device exposes the backing Device for conference/gain/hook operations
// issued directly against this sub-channel's FD.
func (s *Subchannel) Device() Device {
	return s.dev
}
