package engine

// Hangup & sub-channel succession, spec §4.5.

import "time"

// Hangup ends sub, running the succession rules of §4.5 and then the
// post-succession reset and a conference manager Update. Callers must hold
// p's mutex.
func (p *Port) Hangup(cm *ConferenceManager, sub SubIndex) {
	real := p.sub[SubReal]
	cw := p.sub[SubCallWait]
	tw := p.sub[SubThreeWay]

	switch {
	case sub == SubReal && cw != nil && tw != nil:
		if cw.InThreeWay {
			// Call-waiting was answered and is the survivor.
			p.swapSub(SubCallWait, SubReal)
			p.ReleaseSub(SubCallWait)
			if s := p.sub[SubReal]; s != nil {
				s.Owner = nil
			}
		} else {
			// Three-way collapsed.
			wasInThreeWay := tw.InThreeWay
			p.swapSub(SubThreeWay, SubReal)
			p.ReleaseSub(SubThreeWay)
			if wasInThreeWay {
				// Survivor promoted: owner already followed the swap.
			}
		}

	case sub == SubReal && cw != nil && tw == nil:
		p.swapSub(SubCallWait, SubReal)
		p.ReleaseSub(SubCallWait)
		if p.State != StateUp {
			if s := p.sub[SubReal]; s != nil {
				s.Pend(NeedAnswer)
			}
		}
		if s := p.sub[SubReal]; s != nil && s.Owner != nil {
			s.Owner.QueueControl(NeedUnhold, nil)
		}

	case sub == SubReal && cw == nil && tw != nil:
		wasInThreeWay := tw.InThreeWay
		p.swapSub(SubThreeWay, SubReal)
		p.ReleaseSub(SubThreeWay)
		if wasInThreeWay {
			if s := p.sub[SubReal]; s != nil {
				s.InThreeWay = false
			}
		}

	case sub == SubCallWait:
		p.ReleaseSub(SubCallWait)
		if cw != nil && cw.InThreeWay {
			if tw != nil && tw.Owner != nil {
				tw.Owner.QueueControl(NeedHold, nil)
			}
			p.relocateSub(SubThreeWay, SubCallWait)
		}

	case sub == SubThreeWay:
		p.ReleaseSub(SubThreeWay)
		if tw != nil && tw.InThreeWay {
			if cw != nil && cw.Owner != nil {
				cw.Owner.QueueControl(NeedHold, nil)
			}
			p.relocateSub(SubCallWait, SubThreeWay)
		}
	}

	p.postSuccessionReset()
	if cm != nil {
		cm.Update(p)
	}
}

// swapSub exchanges the contents (owner, fd-bearing Subchannel pointer, and
// in-three-way bit) of src into dst atomically with respect to the Port
// mutex the caller holds, per §5 "Sub-channel swaps are atomic under the
// Port mutex: no observer sees half-swapped (owner, fd, in_three_way)
// triples."
func (p *Port) swapSub(src, dst SubIndex) {
	p.sub[dst], p.sub[src] = p.sub[src], p.sub[dst]
	if s := p.sub[dst]; s != nil {
		s.Index = dst
	}
	if s := p.sub[src]; s != nil {
		s.Index = src
	}
	p.active = dst
}

// relocateSub moves a sub-channel from src to dst's slot without touching
// the other slot's prior contents (used when CALLWAIT/THREEWAY exchange
// roles directly, §4.5 "relocate THREEWAY→CALLWAIT").
func (p *Port) relocateSub(src, dst SubIndex) {
	s := p.sub[src]
	p.sub[src] = nil
	p.sub[dst] = s
	if s != nil {
		s.Index = dst
	}
}

// postSuccessionReset clears per-call transient state after any
// succession, per §4.5's closing paragraph.
func (p *Port) postSuccessionReset() {
	p.LastFlash = time.Time{}
	p.DistinctiveRingIndex = 0
	p.Flags.ConfirmAnswer = false
	p.CIDAfterRings = 0
	p.Flags.Outgoing = false
	p.Flags.Digital = false
	p.Flags.FaxHandled = false
	p.Flags.PulseDial = false
	p.Law = defaultLawFor(p.Sig)
}

func defaultLawFor(sig SigVariant) Law {
	if sig.IsDigital() {
		return LawALawDefault
	}
	return LawMu
}

// LawALawDefault is the default law restored after succession for digital
// variants; analog lines default to µ-law. postSuccessionReset always
// restores these defaults; no per-Port setting replaces them.
const LawALawDefault = LawA
