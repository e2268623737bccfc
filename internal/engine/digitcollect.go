package engine

// Digit collection / simple switch, spec §4.8.
//
// One worker per inbound ring, dispatched by the Monitor thread
// (monitor.go) once it sees an unowned Port go ringing/offhook. Each
// signaling family runs its own collection shape but ends the same way:
// an extension match handed to the PBX, or a hangup.

import (
	"context"
	"errors"
	"strings"
	"time"
)

// §4.8 timeouts. NewDigitCollector uses these for every Port; there is no
// per-Port override.
const (
	FirstDigitTimeout = 16 * time.Second
	GenDigitTimeout   = 8 * time.Second
	MatchDigitTimeout = 3 * time.Second
)

// MatchResult reports how a candidate extension compares against the
// configured dialplan.
type MatchResult int

const (
	MatchNone MatchResult = iota
	MatchCan              // a longer digit string might still match
	MatchExact
)

// ExtensionMatcher is the PBX-side dialplan lookup digit collection drives
// against. The engine never interprets extensions itself.
type ExtensionMatcher interface {
	Match(context, exten string) MatchResult
}

// PBXRunner starts the PBX against a Port once an extension is resolved
// (directly, or after a matched dial-prefix action).
type PBXRunner interface {
	Run(p *Port, context, exten string) error
}

// DialPrefixAction runs the side effect of one FXO-style feature-code
// prefix (*8 pickup, *67/*82 CLIR toggle, *69 callback, *70/*72/*73 call
// waiting toggle, *78/*79 DND toggle, *60 blacklist add, *0 attendant,
// or a configured call-parking extension) and reports whether collection
// should restart from scratch afterward.
type DialPrefixAction func(p *Port) (restart bool, err error)

// DigitCollector runs the §4.8 worker against one Port at a time.
type DigitCollector struct {
	matcher  ExtensionMatcher
	pbx      PBXRunner
	prefixes map[string]DialPrefixAction
	parkExt  string

	smdi        SMDIReader
	ringSampler RingCadenceSampler

	first, gen, match time.Duration
}

// NewDigitCollector builds a collector with the default §4.8 timeouts.
// prefixes maps a literal *NN (or configured park extension) onto its
// action; nil disables feature-code handling. smdi and ringSampler may be
// nil, disabling the SMDI Caller-ID path and distinctive-ring matching
// respectively.
func NewDigitCollector(matcher ExtensionMatcher, pbx PBXRunner, prefixes map[string]DialPrefixAction, smdi SMDIReader, ringSampler RingCadenceSampler) *DigitCollector {
	return &DigitCollector{
		matcher:     matcher,
		pbx:         pbx,
		prefixes:    prefixes,
		smdi:        smdi,
		ringSampler: ringSampler,
		first:       FirstDigitTimeout,
		gen:         GenDigitTimeout,
		match:       MatchDigitTimeout,
	}
}

var errNoMatch = errors.New("digitcollect: no matching extension")

// CollectFXO implements the FXO-style loopstart/groundstart/kewlstart path
// of §4.8: first/gen/match timeouts, dial-prefix handling, and final PBX
// dispatch on an unambiguous match.
func (c *DigitCollector) CollectFXO(ctx context.Context, p *Port) error {
	digits := p.StartDigitCollection()
	defer p.StopDigitCollection()

	var buf strings.Builder
	timeout := c.first

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-digits:
			if !ok {
				return errNoMatch
			}
			buf.WriteRune(r)
			cand := buf.String()

			if action, hasPrefix := c.prefixes[cand]; hasPrefix {
				restart, err := action(p)
				if err != nil {
					return err
				}
				if restart {
					buf.Reset()
					timeout = c.first
					continue
				}
				return nil
			}

			switch c.matcher.Match(p.Context, cand) {
			case MatchExact:
				return c.pbx.Run(p, p.Context, cand)
			case MatchCan:
				timeout = c.match
			case MatchNone:
				if !c.hasPrefixWithPrefix(cand) {
					_ = p.dev.Tone(toneCongestion, false)
					return errNoMatch
				}
				timeout = c.gen
			}
		case <-time.After(timeout):
			cand := buf.String()
			if cand == "" {
				return errNoMatch
			}
			if c.matcher.Match(p.Context, cand) == MatchExact {
				return c.pbx.Run(p, p.Context, cand)
			}
			return errNoMatch
		}
	}
}

func (c *DigitCollector) hasPrefixWithPrefix(cand string) bool {
	for k := range c.prefixes {
		if strings.HasPrefix(k, cand) {
			return true
		}
	}
	return false
}

// CollectPRIOverlap implements §4.8's PRI/BRI overlap-dial-incoming path:
// the SETUP already supplied some digits (seed); loop reading more, waiting
// up to matchdigittimeout for each one, until unambiguous, then hand off.
// gendigittimeout is not used on this path.
// cause=UNALLOCATED (returned via ErrNoExtension) if nothing ever matches.
func (c *DigitCollector) CollectPRIOverlap(ctx context.Context, p *Port, seed string) error {
	digits := p.StartDigitCollection()
	defer p.StopDigitCollection()

	buf := strings.Builder{}
	buf.WriteString(seed)

	for {
		cand := buf.String()
		switch c.matcher.Match(p.Context, cand) {
		case MatchExact:
			return c.pbx.Run(p, p.Context, cand)
		case MatchNone:
			return ErrNoExtension
		}

		timeout := c.match
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-digits:
			if !ok {
				return ErrNoExtension
			}
			buf.WriteRune(r)
		case <-time.After(timeout):
			if c.matcher.Match(p.Context, buf.String()) == MatchExact {
				return c.pbx.Run(p, p.Context, buf.String())
			}
			return ErrNoExtension
		}
	}
}

// FeatureGroupResult carries the ANI/DNIS split §4.8's feature-group-D/MF
// path collects, delimited by '*' (ANI/DNIS separator) and '#' (terminator).
type FeatureGroupResult struct {
	ANI, DNIS string
	TandemAccess bool
}

// CollectFeatureGroup implements the Feature Group D / MF / E911 path: wink,
// MF-mode digit collection delimited by * and #, tandem-access double-wink,
// and the E911 *0 attendant re-route (reported as DNIS "0"; the result has
// no separate attendant marker).
func (c *DigitCollector) CollectFeatureGroup(ctx context.Context, p *Port, variant SigVariant, sendWink func() error) (FeatureGroupResult, error) {
	if sendWink != nil {
		if err := sendWink(); err != nil {
			return FeatureGroupResult{}, err
		}
	}
	if err := p.dev.SetLaw(LawMu); err != nil && !IsTransient(err) {
		return FeatureGroupResult{}, err
	}

	digits := p.StartDigitCollection()
	defer p.StopDigitCollection()

	if variant == SigFeatB {
		dnis, err := c.readUntil(ctx, digits, "#")
		if err != nil {
			return FeatureGroupResult{}, err
		}
		return FeatureGroupResult{DNIS: strings.TrimSuffix(dnis, "#")}, nil
	}

	ani, err := c.readUntil(ctx, digits, "*")
	if err != nil {
		return FeatureGroupResult{}, err
	}
	ani = strings.TrimSuffix(ani, "*")

	if variant == SigFeatDMFTandemAccess {
		if sendWink != nil {
			if err := sendWink(); err != nil {
				return FeatureGroupResult{}, err
			}
		}
	}

	dnis, err := c.readUntil(ctx, digits, "#")
	if err != nil {
		return FeatureGroupResult{}, err
	}
	dnis = strings.TrimSuffix(dnis, "#")

	result := FeatureGroupResult{ANI: ani, DNIS: dnis, TandemAccess: variant == SigFeatDMFTandemAccess}
	if variant == SigE911 && dnis == "*0" {
		result.DNIS = "0"
	}
	return result, nil
}

func (c *DigitCollector) readUntil(ctx context.Context, digits <-chan rune, terminator string) (string, error) {
	var buf strings.Builder
	term := rune(terminator[0])
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case r, ok := <-digits:
			if !ok {
				return "", errNoMatch
			}
			buf.WriteRune(r)
			if r == term {
				return buf.String(), nil
			}
		case <-time.After(c.gen):
			return "", errNoMatch
		}
	}
}
