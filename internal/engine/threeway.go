package engine

// Three-way calling and blind transfer, spec §4.7.
//
// A hook-flash on a StateUp Port with a CALLWAIT leg swaps hold between
// REAL and CALLWAIT. Otherwise the first flash opens a THREEWAY leg, the
// next flash (once the third party has been dialed) builds a conference of
// both legs, and a further flash drops the most recently added leg. Blind
// transfer is not driven by a flash; AttemptTransfer is called separately.

import "time"

// FlashWindow is the post-flash window within which a dialed digit counts
// as part of an operator code rather than a new call attempt. No code in
// this package reads it.
const FlashWindow = 4 * time.Second

// ThreeWayController runs the flash-driven state machine of §4.7 against one
// Port. Method calls expect the Port mutex held by the caller (the analog
// engine's handleWinkFlash hands off here once it recognizes a pending
// NeedFlash on a StateUp port).
type ThreeWayController struct {
	cm *ConferenceManager
}

// NewThreeWayController constructs a controller bound to the shared
// conference manager so opening/collapsing a leg re-runs §4.3.
func NewThreeWayController(cm *ConferenceManager) *ThreeWayController {
	return &ThreeWayController{cm: cm}
}

// OnFlash handles one hook-flash edge per §4.7's table. alloc lazily
// allocates a pseudo-device sub-channel (bridge.go/port.go AllocateSub).
//
// Rule 1 (call-waiting swap) takes priority over everything three-way
// related: a flash with a CALLWAIT leg present always swaps hold state
// between REAL and CALLWAIT, regardless of any THREEWAY leg's state. Rule 2
// opens a new THREEWAY leg when none exists yet. Rule 3 covers every flash
// once a THREEWAY leg is already in play: 3a drops the most recently added
// leg once the conference is built, 3b builds the conference on the flash
// that follows dialing the third party, 3c dumps an incomplete attempt
// whose original party is no longer there to conference in.
func (t *ThreeWayController) OnFlash(p *Port, alloc func() (Device, error)) error {
	if p.State != StateUp {
		return nil
	}
	if !p.Flags.ThreeWayCalling && !p.Flags.CallWaiting {
		return nil
	}

	tw := p.sub[SubThreeWay]
	cw := p.sub[SubCallWait]

	switch {
	case cw != nil:
		return t.swapActive(p, SubCallWait)
	case tw == nil:
		if !p.Flags.ThreeWayCalling || p.InConference {
			return nil
		}
		return t.openThreeWay(p, alloc)
	case tw.InThreeWay:
		return t.dropLastCaller(p)
	case p.sub[SubReal] != nil && p.sub[SubReal].Owner != nil:
		return t.buildConference(p)
	default:
		return t.dumpIncompleteCall(p)
	}
}

// openThreeWay puts the current REAL leg on hold, allocates a THREEWAY
// pseudo sub-channel, and plays the dial-recall tone on the line. It does
// not start digit collection for the new leg.
func (t *ThreeWayController) openThreeWay(p *Port, alloc func() (Device, error)) error {
	dev, err := alloc()
	if err != nil {
		return err
	}
	s, err := p.AllocateSub(SubThreeWay, dev)
	if err != nil {
		return err
	}
	s.Owner = nil
	if real := p.sub[SubReal]; real != nil && real.Owner != nil {
		real.Owner.QueueControl(NeedHold, nil)
	}
	if p.dev != nil {
		_ = p.dev.Tone(toneDialRecall, false)
	}
	p.LastFlash = frozenNow()
	if t.cm != nil {
		t.cm.Update(p)
	}
	return nil
}

// buildConference attaches REAL and THREEWAY to a new conference per §4.7
// rule 3b, the flash that lands once the third party has been dialed: both
// legs are marked in_three_way so ConferenceManager.Update allocates a
// conference number and attaches them, and the party that was on hold while
// the call was placed gets an *unhold*.
func (t *ThreeWayController) buildConference(p *Port) error {
	tw := p.sub[SubThreeWay]
	real := p.sub[SubReal]
	if tw == nil || real == nil {
		return nil
	}
	real.InThreeWay = true
	tw.InThreeWay = true
	if real.Owner != nil {
		real.Owner.QueueControl(NeedUnhold, nil)
	}
	if t.cm != nil {
		t.cm.Update(p)
	}
	return nil
}

// dropLastCaller releases the THREEWAY leg once the conference is already
// built and restores REAL as the sole active party, §4.7 rule 3a.
func (t *ThreeWayController) dropLastCaller(p *Port) error {
	if real := p.sub[SubReal]; real != nil {
		real.InThreeWay = false
	}
	p.ReleaseSub(SubThreeWay)
	p.SetActive(SubReal)
	if t.cm != nil {
		t.cm.Update(p)
	}
	return nil
}

// dumpIncompleteCall releases an unanswered THREEWAY leg whose original
// party is no longer present to conference in, §4.7 rule 3c.
func (t *ThreeWayController) dumpIncompleteCall(p *Port) error {
	p.ReleaseSub(SubThreeWay)
	p.SetActive(SubReal)
	if t.cm != nil {
		t.cm.Update(p)
	}
	return nil
}

// swapActive flips which of REAL and the given held leg is primary, the
// call-waiting/three-way "swap hold" operation.
func (t *ThreeWayController) swapActive(p *Port, held SubIndex) error {
	if held != SubCallWait && held != SubThreeWay {
		return nil
	}
	cur := p.Active()
	next := SubReal
	if cur == SubReal {
		next = held
	}
	p.SetActive(next)

	if s := p.sub[cur]; s != nil && s.Owner != nil {
		s.Owner.QueueControl(NeedHold, nil)
	}
	if s := p.sub[next]; s != nil && s.Owner != nil {
		s.Owner.QueueControl(NeedUnhold, nil)
	}
	if t.cm != nil {
		t.cm.Update(p)
	}
	return nil
}

// AttemptTransfer implements blind transfer: the subscriber flashed, dialed
// a number into the THREEWAY leg, then hung up before that leg answered.
// Per §4.7 this asks the PBX layer (via the owner's QueueControl channel,
// carrying the dialed digits as payload) to complete the transfer instead
// of tearing the held party down. Port.Hangup does not call it; the
// operator interface's Transfer does.
func (t *ThreeWayController) AttemptTransfer(p *Port) bool {
	tw := p.sub[SubThreeWay]
	if tw == nil || tw.Owner == nil || p.FinalDialString == "" {
		return false
	}
	tw.Owner.QueueControl(NeedFlash, p.FinalDialString)
	p.FinalDialString = ""
	return true
}
