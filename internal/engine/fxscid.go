package engine

// FXS-side Caller-ID collection and distinctive-ring cadence matching,
// spec §4.8's bell/v23/v23_jp/dtmf/smdi dispatch. Unlike CollectFXO/
// CollectPRIOverlap this path runs while the Port is still StateRing,
// before any PBX channel exists to own it: a decoded spill is stored
// directly on Port.CID for whatever collection step runs next to pick up.

import (
	"context"
	"time"
)

// SMDIReader fetches a Caller-ID record a Simplified Message Desk Interface
// serial link has buffered for the given SMDI port, spec §6.3 smdiport.
type SMDIReader interface {
	ReadCallerID(ctx context.Context, smdiPort string) (CIDMessage, error)
}

// RingCadenceSampler reports the on/off durations a Port has observed of the
// current ring so far. The engine's hardware event model only surfaces a
// single "ring begins" edge (EventRingOffhook), not per-transition ring
// on/off events, so live cadence sampling needs a hardware-specific
// implementation of this interface; a nil sampler disables distinctive-ring
// matching entirely rather than guessing from the one edge this engine does
// see.
type RingCadenceSampler interface {
	Sample(ctx context.Context, p *Port) ([]CadenceSlot, error)
}

const fxsCIDTimeout = 4 * time.Second

// CollectFXSCallerID implements §4.8's FXS-side spill collection: decode the
// inbound Caller-ID waveform per p.CIDSignaling, optionally matching the
// observed ring cadence against p.Cadences first so a distinctive-ring
// context can steer the call before the spill is even read.
func (c *DigitCollector) CollectFXSCallerID(ctx context.Context, p *Port) error {
	c.matchRingCadence(ctx, p)

	p.Lock()
	signaling := p.CIDSignaling
	p.Unlock()

	switch signaling {
	case CIDSignalingDTMF:
		return c.collectDTMFCallerID(ctx, p)
	case CIDSignalingSMDI:
		return c.collectSMDICallerID(ctx, p)
	default:
		return c.collectFSKCallerID(ctx, p, signaling)
	}
}

func (c *DigitCollector) matchRingCadence(ctx context.Context, p *Port) {
	if c.ringSampler == nil {
		return
	}
	p.Lock()
	templates := p.Cadences
	p.Unlock()
	if len(templates) == 0 {
		return
	}

	observed, err := c.ringSampler.Sample(ctx, p)
	if err != nil || len(observed) == 0 {
		return
	}

	idx := matchCadenceTemplates(templates, observed)
	if idx < 0 {
		return
	}
	p.Lock()
	p.DistinctiveRingIndex = idx
	if templates[idx].Context != "" {
		p.Context = templates[idx].Context
	}
	p.Unlock()
}

// collectFSKCallerID feeds raw device reads to an FSKDecoder until a
// checksum-valid frame decodes or fxsCIDTimeout elapses.
func (c *DigitCollector) collectFSKCallerID(ctx context.Context, p *Port, signaling CIDSignaling) error {
	p.Lock()
	law := p.Law
	p.Unlock()

	dec, err := NewFSKDecoder(law, signaling)
	if err != nil {
		return err
	}

	deadline := frozenNow().Add(fxsCIDTimeout)
	for frozenNow().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := p.Read()
		if err != nil {
			return err
		}
		if frame.Kind != FrameVoice {
			continue
		}
		if dec.Feed(frame.Voice) {
			msg := dec.Message()
			p.Lock()
			p.CID.Number = msg.Number
			p.CID.Name = msg.Name
			p.Unlock()
			return nil
		}
	}
	return errNoMatch
}

// collectDTMFCallerID reads digits off the Port's digit-collection channel
// until the ETSI-style "C" terminator closes the header, per
// DecodeDTMFHeader.
func (c *DigitCollector) collectDTMFCallerID(ctx context.Context, p *Port) error {
	digits := p.StartDigitCollection()
	defer p.StopDigitCollection()

	var raw []rune
	deadline := time.After(fxsCIDTimeout)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-digits:
			if !ok {
				return errNoMatch
			}
			raw = append(raw, r)
			if r == 'C' || r == '#' {
				number := DecodeDTMFHeader(string(raw))
				p.Lock()
				p.CID.Number = number
				p.Unlock()
				return nil
			}
		case <-deadline:
			return errNoMatch
		}
	}
}

// collectSMDICallerID defers to the configured SMDIReader keyed by the
// Port's provisioned SMDI serial port name.
func (c *DigitCollector) collectSMDICallerID(ctx context.Context, p *Port) error {
	if c.smdi == nil {
		return errNoMatch
	}
	p.Lock()
	smdiPort := p.SMDIPort
	p.Unlock()

	msg, err := c.smdi.ReadCallerID(ctx, smdiPort)
	if err != nil {
		return err
	}
	p.Lock()
	p.CID.Number = msg.Number
	p.CID.Name = msg.Name
	p.Unlock()
	return nil
}

// matchCadenceTemplates returns the index of the first template in
// templates whose slots all match observed, or -1 if none do.
func matchCadenceTemplates(templates []CadenceTemplate, observed []CadenceSlot) int {
	for i, tmpl := range templates {
		if matchCadence(tmpl, observed) {
			return i
		}
	}
	return -1
}

// matchCadence reports whether observed satisfies every slot of tmpl: each
// slot's on/off duration must fall within tmpl.RangeMS of the configured
// value, with -1 in either field of a CadenceSlot acting as a wildcard that
// matches any observed duration.
func matchCadence(tmpl CadenceTemplate, observed []CadenceSlot) bool {
	if len(observed) < len(tmpl.Slots) {
		return false
	}
	for i, want := range tmpl.Slots {
		got := observed[i]
		if !cadenceFieldMatches(want.OnMS, got.OnMS, tmpl.RangeMS) {
			return false
		}
		if !cadenceFieldMatches(want.OffMS, got.OffMS, tmpl.RangeMS) {
			return false
		}
	}
	return true
}

func cadenceFieldMatches(want, got, rangeMS int) bool {
	if want == -1 {
		return true
	}
	diff := want - got
	if diff < 0 {
		diff = -diff
	}
	return diff <= rangeMS
}
