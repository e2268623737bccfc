package engine

// Port, spec §3 / §4.2.
//
// Port is the central entity: one physical channel (B-channel or analog
// line) plus, for GR-303/CRV, a virtual line bound to a bearer Port. It
// owns its three sub-channels, its current signaling state, its Caller-ID
// generation buffer, its DSP handle (modeled here as Device plus the
// CID/echo-cancel state carried on the Port), its conference membership,
// its master/slave links, and its PRI/SS7 binding.

import (
	"fmt"
	"sync"
	"time"
)

// Port flags, spec §3 "Flags". Grouped into a struct of booleans rather
// than one bitmask, so each flag is a named field instead of a bit in an
// opaque mask.
type PortFlags struct {
	ADSI                     bool
	AnswerOnPolaritySwitch   bool
	BusyDetect               bool
	CallReturn               bool
	CallWaiting              bool
	CallWaitingPermanent     bool
	CallWaitingCallerID      bool
	CanCallForward           bool
	CanPark                  bool
	ConfirmAnswer            bool
	DestroyPending           bool
	Dialing                  bool
	Digital                  bool
	DND                      bool
	EchoCancelOn             bool
	EchoCancelBridged        bool
	FaxHandled               bool
	HangupOnPolaritySwitch   bool
	HardwareDTMF             bool
	HideCallerID             bool
	HideCallerIDPermanent    bool
	IgnoreDTMF               bool
	ImmediateAnswer          bool
	InAlarm                  bool
	Outgoing                 bool
	PulseDial                bool
	TransferAllowed          bool
	TransferToBusy           bool
	ThreeWayCalling          bool
	UseCallerID              bool
	UseCallingPresentation   bool
	UseDistinctiveRing       bool
	TDDMode                  bool
	ZapTransferCallerID      bool
	MWIMonitor               bool
	MWIMonitorActive         bool
	InService                bool
	LocallyBlocked           bool
	RemotelyBlocked          bool

	// PRI/SS7 flags.
	RLT           bool
	Alerting      bool
	AlreadyHungup bool
	IsIdleCall    bool
	Proceeding    bool
	Progress      bool
	Resetting     bool
	SetupAck      bool
}

// CallerID carries the string fields of spec §3.
type CallerID struct {
	Number      string
	Name        string
	ANI         string
	TON         int
	Presentation string
}

// Port is one provisioned physical or virtual line.
type Port struct {
	mu sync.Mutex

	Channel int
	Span    int
	Law     Law
	Sig     SigVariant
	OutSig  SigVariant // 0 == use Sig
	Group   int

	Radio                  bool
	OperatorServicesPeer   *Port

	sub [subCount]*Subchannel
	// active identifies which of the three sub-channels currently bears
	// the Port's primary owner; spec §3 invariant "exactly one ... may be
	// the active one".
	active SubIndex

	Master  *Port
	Slaves  [4]*Port
	numSlaves int

	ConfNo           int
	PropagatedConfNo int
	InConference     bool

	Flags PortFlags

	Context        string
	DefaultContext string
	Exten          string
	Language       string
	MOHInterpret   string
	MOHSuggest     string

	CID         CallerID
	LastCID     CallerID
	CallWaitCID CallerID

	RedirectingNumber string
	DialedNumber      string
	Mailbox           string
	CallForwardTarget string
	AccountCode       string
	DialBuffer        string
	FinalDialString   string
	EchoRestString    string
	DialOpBuffer      string

	CIDSignaling CIDSignaling
	CIDStartMode CIDStart
	CIDRxGain    float64
	SMDIPort     string
	Cadences     []CadenceTemplate

	StripMSD            int
	CallWaitRings        int
	EchoCancelTaps       int
	EchoCancelParamList  EchoCancelParams
	EchoTrainingMS       int
	BusyDetectCount      int
	BusyToneMS           int
	BusyQuietMS          int
	CallProgressMask     int
	LastFlash            time.Time
	OnHookTime           time.Time
	DistinctiveRingIndex int
	CIDAfterRings        int
	RelaxDTMF            bool
	PolarityOnAnswerDelayMS int
	PolarityOnAnswerAt   time.Time
	Polarity             PolarityState

	State State

	// PRI linkage.
	PRIController *PRIController
	BearerPort    *Port // for CRVs
	CRVPort       *Port // for bearers
	Q931Call      CallToken
	PRIOffset     int
	LogicalSpan   int

	// SS7 linkage.
	Linkset       *SS7Linkset
	ISUPCall      CallToken
	CIC           int
	DPC           int
	ChargeNumber  string
	GenericAddress string
	GenericDigits string
	JIP           string
	CallRefIdent  int
	CallRefPC     int
	TransferCapability int
	LoopedBack    bool

	ADSI ADSIState

	cidSpillActive bool
	savedConf      ConferenceDescriptor
	savedConfValid bool
	cwMuteUntil    time.Time

	digitCh chan rune

	dev      Device
	log      func(msg string, kv ...any)
	threeWay *ThreeWayController
}

// StartDigitCollection opens the channel the Monitor thread forwards decoded
// DTMF/pulse digit events onto while a digit-collection worker
// (digitcollect.go) owns this Port. If a channel is already open, it is
// returned as is, together with any digits already pushed onto it; the
// channel stays open until StopDigitCollection.
func (p *Port) StartDigitCollection() <-chan rune {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.digitCh == nil {
		p.digitCh = make(chan rune, 32)
	}
	return p.digitCh
}

// PushDigit forwards one decoded digit to an active digit-collection
// worker, if any. Non-blocking: a full or absent channel silently drops
// the digit rather than stalling the Monitor thread.
func (p *Port) PushDigit(r rune) {
	p.mu.Lock()
	ch := p.digitCh
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
	}
}

// StopDigitCollection closes and clears the collection channel.
func (p *Port) StopDigitCollection() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.digitCh != nil {
		close(p.digitCh)
		p.digitCh = nil
	}
}

// CallToken is an opaque index into a controller-local table, per spec §9
// "PRI/SS7 handles": the library hands out opaque call tokens, modeled here
// as an index the PRI/SS7 controller maintains a token→Port mapping for.
type CallToken int

const NoCallToken CallToken = -1

// NewPort constructs a Port with its REAL sub-channel allocated against
// dev, per spec §3 Lifecycle: "REAL is allocated with the Port; CALLWAIT
// and THREEWAY are allocated on demand".
func NewPort(channel, span int, law Law, sig SigVariant, dev Device) *Port {
	p := &Port{
		Channel: channel,
		Span:    span,
		Law:     law,
		Sig:     sig,
		dev:     dev,
		State:   StateDown,
		Q931Call: NoCallToken,
		ISUPCall: NoCallToken,
	}
	p.sub[SubReal] = NewSubchannel(p, SubReal, dev)
	p.active = SubReal
	return p
}

// Lock/Unlock expose the per-Port mutex for callers (conference manager,
// controllers) that must serialize with it directly, per spec §5's
// Channel→Port→(PRI|SS7) lock ordering.
func (p *Port) Lock()   { p.mu.Lock() }
func (p *Port) Unlock() { p.mu.Unlock() }

// TryLock attempts to acquire the Port mutex without blocking, used by
// callers observing the Channel→Port→(PRI|SS7) ordering who must not block
// while holding the next lock up the chain (spec §5).
func (p *Port) TryLock() bool { return p.mu.TryLock() }

// Sub returns the sub-channel at idx, or nil if not currently allocated.
func (p *Port) Sub(idx SubIndex) *Subchannel {
	return p.sub[idx]
}

// Active returns the index of the currently active (primary-owned)
// sub-channel.
func (p *Port) Active() SubIndex {
	return p.active
}

// SetActive changes which sub-channel is primary. Invariants require this
// to happen atomically with respect to any swap of the underlying owner,
// so callers must hold the Port mutex across both.
func (p *Port) SetActive(idx SubIndex) {
	p.active = idx
}

// AllocateSub lazily allocates CALLWAIT or THREEWAY against a pseudo
// device, per spec §3 Lifecycle. Allocating SubReal is invalid since it is
// created with the Port.
func (p *Port) AllocateSub(idx SubIndex, dev Device) (*Subchannel, error) {
	if idx == SubReal {
		return nil, fmt.Errorf("port: REAL sub-channel is allocated with the Port")
	}
	if p.sub[idx] != nil {
		return p.sub[idx], nil
	}
	p.sub[idx] = NewSubchannel(p, idx, dev)
	return p.sub[idx], nil
}

// ReleaseSub frees CALLWAIT or THREEWAY once their half-call ends.
func (p *Port) ReleaseSub(idx SubIndex) {
	if idx == SubReal {
		return
	}
	if s := p.sub[idx]; s != nil {
		s.ClearConf()
	}
	p.sub[idx] = nil
}

// Device returns the Port's primary (REAL) backing device.
func (p *Port) Device() Device { return p.dev }

// AddSlave links slave to follow this Port's conference, spec §3
// "up to four slave Ports (they follow ours)". Returns false if four
// slaves are already linked.
func (p *Port) AddSlave(slave *Port) bool {
	if p.numSlaves >= len(p.Slaves) {
		return false
	}
	p.Slaves[p.numSlaves] = slave
	p.numSlaves++
	slave.Master = p
	return true
}

// RemoveSlave unlinks slave from this Port's slave list.
func (p *Port) RemoveSlave(slave *Port) {
	for i := 0; i < p.numSlaves; i++ {
		if p.Slaves[i] == slave {
			copy(p.Slaves[i:p.numSlaves-1], p.Slaves[i+1:p.numSlaves])
			p.numSlaves--
			p.Slaves[p.numSlaves] = nil
			slave.Master = nil
			return
		}
	}
}

// SetThreeWayController binds the controller that actually drives hook-flash
// transitions (three-way, call-waiting swap, blind transfer) for this Port,
// per §4.7. Called once at provisioning time; CondFlash and the analog
// engine's wink/flash handling fall back to a bare NeedFlash pend when none
// is bound.
func (p *Port) SetThreeWayController(t *ThreeWayController) {
	p.threeWay = t
}

// triggerFlash routes one hook-flash edge to the bound ThreeWayController.
// Callers must hold p's mutex.
func (p *Port) triggerFlash() error {
	if p.threeWay != nil {
		return p.threeWay.OnFlash(p, func() (Device, error) { return OpenPseudoDevice(p.Law) })
	}
	if s := p.sub[p.active]; s != nil {
		s.Pend(NeedFlash)
	}
	return nil
}

// SlaveCount reports how many slaves currently follow this Port, used by
// the conference manager's slave-native eligibility check (§4.3 step 1).
func (p *Port) SlaveCount() int { return p.numSlaves }

// SoleSlave returns the Port's only slave if exactly one is linked.
func (p *Port) SoleSlave() (*Port, bool) {
	if p.numSlaves == 1 {
		return p.Slaves[0], true
	}
	return nil, false
}

// --- §4.2 Port operation table -------------------------------------------

// Request returns an unowned call handle (here, the REAL sub-channel) on
// this Port if it is available, or ErrBusy otherwise.
// Group-wide selection is Registry.RequestInGroup; this method checks one
// already-selected Port.
func (p *Port) Request() (*Subchannel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State != StateDown || p.Flags.LocallyBlocked || p.Flags.RemotelyBlocked || !p.Flags.InService {
		return nil, ErrBusy
	}
	p.State = StateReserved
	return p.sub[SubReal], nil
}

// Call initiates an outbound call per §4.2: generates a Caller-ID spill if
// FXS, sends ring or triggers Q.931 SETUP / ISUP IAM depending on
// signaling, and fails with ErrPortNotDown if state is wrong.
func (p *Port) Call(destination string, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State != StateDown && p.State != StateReserved {
		return ErrPortNotDown
	}

	p.DialedNumber = destination
	p.Flags.Outgoing = true

	switch {
	case p.Sig.IsDigital():
		// The PRI/SS7 controller owns SETUP/IAM generation; the Port
		// just records the pending state so Answer/Hangup have
		// somewhere to resume from. See pri.go/ss7.go.
		p.State = StateDialing
		p.Flags.Dialing = true
	case p.Sig.IsFXS():
		p.State = StateRinging
		if err := p.dev.Hook(HookRing); err != nil && !IsTransient(err) {
			return err
		}
	default: // FXO and the analog feature-group/MF family dial out-of-band.
		p.State = StateDialingOffhook
		p.Flags.Dialing = true
		if err := p.dev.Dial(DialOp{Op: DialReplace, Digits: destination}); err != nil && !IsTransient(err) {
			return err
		}
	}
	return nil
}

// Answer implements §4.2 answer: offhook + disable echo-cancel-training,
// then marks the Port up. It sends no CONNECT/ANM for ISDN/SS7 Ports and
// does not notify the PRI or SS7 controller.
func (p *Port) Answer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.dev.Hook(HookOff); err != nil && !IsTransient(err) {
		return err
	}
	p.Flags.EchoCancelOn = true
	if err := p.dev.EchoCancelDisable(); err != nil {
		// Training-disable failing is not fatal to the answer path;
		// log and continue per §7 Hardware-transient handling for
		// non-critical verbs.
	}
	p.State = StateUp
	p.Flags.Dialing = false
	return nil
}

// Indicate maps a control condition onto a tone play or protocol message,
// spec §4.2 indicate.
type Condition int

const (
	CondBusy Condition = iota
	CondRinging
	CondProgress
	CondProceeding
	CondCongestion
	CondHold
	CondUnhold
	CondFlash
	CondRadioKey
	CondRadioUnkey
)

func (p *Port) Indicate(cond Condition, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch cond {
	case CondBusy:
		return p.dev.Tone(toneBusy, false)
	case CondCongestion:
		return p.dev.Tone(toneCongestion, false)
	case CondRinging:
		return p.dev.Tone(toneRingback, false)
	case CondProgress, CondProceeding:
		if p.CallProgressMask&callProgressInbandAvailable != 0 {
			return p.dev.ToneDetect(true, false)
		}
		return nil
	case CondHold:
		if s := p.sub[p.active]; s != nil && s.Owner != nil {
			s.Owner.QueueControl(NeedHold, data)
		}
		return nil
	case CondUnhold:
		if s := p.sub[p.active]; s != nil && s.Owner != nil {
			s.Owner.QueueControl(NeedUnhold, data)
		}
		return nil
	case CondFlash:
		return p.triggerFlash()
	case CondRadioKey:
		return p.dev.Hook(HookOff)
	case CondRadioUnkey:
		return p.dev.Hook(HookOn)
	default:
		return nil
	}
}

const (
	toneBusy = iota
	toneCongestion
	toneRingback
	toneDialRecall
)

const callProgressInbandAvailable = 1 << 0

// Fixup transfers ownership of the active sub-channel under lock and
// re-arms ringing indication if needed, per §4.2 fixup.
func (p *Port) Fixup(oldOwner, newOwner Owner) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.sub[p.active]
	if s == nil {
		return fmt.Errorf("port: no active sub-channel to fix up")
	}
	s.Owner = newOwner
	if p.State == StateRinging && newOwner != nil {
		newOwner.QueueControl(NeedRing, nil)
	}
	return nil
}

// SetOptionCode enumerates §4.2 setoption opcodes.
type SetOptionCode int

const (
	OptGain SetOptionCode = iota
	OptToneVerify
	OptTDDMode
	OptRelaxDTMF
	OptAudioMode
	OptEchoCancelEnable
	OptOperatorServicesPair
)

// SetOption adjusts per-call settings named in §4.2.
func (p *Port) SetOption(opcode SetOptionCode, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch opcode {
	case OptGain:
		g, ok := data.(GainTable)
		if !ok {
			return fmt.Errorf("port: setoption gain: wrong data type")
		}
		return p.dev.SetGains(g)
	case OptTDDMode:
		b, _ := data.(bool)
		p.Flags.TDDMode = b
		return nil
	case OptRelaxDTMF:
		b, _ := data.(bool)
		p.RelaxDTMF = b
		return nil
	case OptAudioMode:
		b, _ := data.(bool)
		return p.dev.AudioMode(b)
	case OptEchoCancelEnable:
		b, _ := data.(bool)
		p.Flags.EchoCancelOn = b
		if !b {
			return p.dev.EchoCancelDisable()
		}
		return p.dev.EchoCancelParams(p.EchoCancelParamList)
	case OptOperatorServicesPair:
		peer, _ := data.(*Port)
		p.OperatorServicesPeer = peer
		return nil
	default:
		return nil
	}
}

// Bridge implements §4.2 bridge: attempts to collapse this Port's active
// sub-channel with peer's peerSub onto a hardware path via NativeBridge.
// NativeBridge does its own TryLock dance on both Ports in channel order, so
// unlike every other op-table method here this one must not hold p's mutex
// across the call.
func (p *Port) Bridge(cm *ConferenceManager, peer *Port, peerSub SubIndex) (*BridgeResult, error) {
	p.mu.Lock()
	mySub := p.active
	p.mu.Unlock()
	return NativeBridge(cm, BridgeEnd{Port: p, Sub: mySub}, BridgeEnd{Port: peer, Sub: peerSub})
}

// SendText implements §4.2 send_text: a 50 ms mark lead-in followed by a
// Bell-202-encoded text payload, or a Baudot/ITA2 TDD encoding when the
// Port's TDD mode flag is set.
func (p *Port) SendText(text string) error {
	p.mu.Lock()
	tdd := p.Flags.TDDMode
	law := p.Law
	p.mu.Unlock()

	var wave []byte
	if tdd {
		wave = EncodeTDDText(law, text)
	} else {
		lead := renderFSK(law, bell202MarkHz, bell202SpaceHz, markLeadBits(50*time.Millisecond))
		payload, err := CIDWaveform(law, CIDSignalingBell, CIDMessage{Name: text})
		if err != nil {
			return err
		}
		wave = append(lead, payload...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.dev.Write(wave)
	return err
}

// Write implements §4.2 write: converts and writes samples, dropping
// frames while dialing or while a Caller-ID spill is in progress.
func (p *Port) Write(frame []int16) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Flags.Dialing || p.cidSpillActive {
		return len(frame), nil
	}
	buf := make([]byte, len(frame))
	for i, s := range frame {
		buf[i] = EncodeSample(p.Law, s)
	}
	return p.dev.Write(buf)
}

// Read implements §4.2 read: returns a deferred control frame if one is
// pending on the active sub-channel, otherwise a voice frame.
func (p *Port) Read() (Frame, error) {
	p.mu.Lock()
	s := p.sub[p.active]
	p.mu.Unlock()
	if s == nil {
		return Frame{}, fmt.Errorf("port: no active sub-channel")
	}
	if s.HasPending() {
		need := s.TakePending()
		return Frame{Kind: FrameControl, Need: need}, nil
	}

	raw := make([]byte, 320)
	n, err := p.dev.Read(raw)
	if err != nil {
		return Frame{}, err
	}
	if n == 0 {
		return Frame{Kind: FrameException}, nil
	}
	voice := make([]byte, n)
	copy(voice, raw[:n])
	return Frame{Kind: FrameVoice, Voice: voice}, nil
}
