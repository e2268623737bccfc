package engine

// PRI controller, spec §4.9. One goroutine per trunk group, driving a
// Q.931-equivalent library through its D-channel file descriptors.

import (
	"context"
	"sync"
	"time"
)

// Q931Library is the boundary this controller drives; a real binding
// would wrap a cgo libpri handle, a test double plays back scripted events.
// Kept as an interface per spec §9 "PRI/SS7 handles are external
// collaborators, not engine-owned state" — the engine never re-implements
// Q.931 itself.
type Q931Library interface {
	Schedule() time.Duration
	CheckEvent(fd int) (PRIEvent, bool)
	FindDChan(dchans []int) (int, error)
	Enslave(primary, secondary int) error
	Reset(call CallToken) error
	Information(call CallToken, digits string) error
	QueueFrame(call CallToken, need NeedFlag, data any) error
}

// PRIEventKind enumerates the library event table of §4.9.
type PRIEventKind int

const (
	PRIDChanUp PRIEventKind = iota
	PRIDChanDown
	PRIRestartChannel
	PRIRestartSpan
	PRIRestartAck
	PRIRing
	PRIProceeding
	PRIProgress
	PRIRinging
	PRIAnswer
	PRIHangupReq
	PRIHangup
	PRISetupAck
	PRINotifyHold
	PRINotifyRetrieve
	PRIKeypadDigit
	PRIInfoReceived
)

// PRIEvent is one decoded library event.
type PRIEvent struct {
	Kind        PRIEventKind
	Call        CallToken
	Channel     int
	Span        int
	Digits      string
	CallingNum  string
	CalledNum   string
	Complete    bool
	Cause       int
	Exclusive   bool
}

// PRIController runs one trunk group's D-channel poll loop.
type PRIController struct {
	mu sync.Mutex

	lib     Q931Library
	dchans  []int
	primary int

	members []*Port // indexed by B-channel position

	cfg PRISpanConfig

	upSet       map[int]bool
	resetCursor int
	lastIdle    time.Time

	matcher ExtensionMatcher
	pbx     PBXRunner
	collector *DigitCollector
	cm      *ConferenceManager
}

// NewPRIController constructs a controller for one trunk group.
func NewPRIController(lib Q931Library, cfg PRISpanConfig, dchans []int, members []*Port, matcher ExtensionMatcher, pbx PBXRunner, cm *ConferenceManager) *PRIController {
	return &PRIController{
		lib:       lib,
		dchans:    dchans,
		primary:   dchans[0],
		members:   members,
		cfg:       cfg,
		upSet:     make(map[int]bool),
		matcher:   matcher,
		pbx:       pbx,
		collector: NewDigitCollector(matcher, pbx, nil, nil, nil),
		cm:        cm,
	}
}

// Run drives the poll loop of §4.9 until ctx is cancelled. Secondary
// D-channels are chained to the first via Enslave and every D-channel is
// polled each pass. FindDChan is not called: the primary stays dchans[0]
// even after a D-channel failure.
func (c *PRIController) Run(ctx context.Context) error {
	for i := 1; i < len(c.dchans); i++ {
		_ = c.lib.Enslave(c.primary, c.dchans[i])
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		timeout := c.lib.Schedule()
		if timeout > 60*time.Second {
			timeout = 60 * time.Second
		}
		if c.anyResetting() && timeout > time.Second {
			timeout = time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
		}

		for _, fd := range c.dchans {
			ev, ok := c.lib.CheckEvent(fd)
			if !ok {
				continue
			}
			c.dispatch(ev)
		}

		c.runIdleCallManagement()
		c.runPeriodicReset()
	}
}

func (c *PRIController) anyResetting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.members {
		if p != nil && p.Flags.Resetting {
			return true
		}
	}
	return false
}

// dispatch implements §4.9's event table.
func (c *PRIController) dispatch(ev PRIEvent) {
	switch ev.Kind {
	case PRIDChanUp:
		c.mu.Lock()
		for _, p := range c.members {
			if p != nil {
				p.Flags.InAlarm = false
			}
		}
		c.resetCursor = 0
		c.mu.Unlock()

	case PRIDChanDown:
		c.mu.Lock()
		if c.cfg.Timers.T309MS < 0 {
			for _, p := range c.members {
				if p == nil {
					continue
				}
				p.Flags.InAlarm = true
				if s := p.sub[p.active]; s != nil && s.Owner != nil {
					s.Owner.SoftHangup("dchan down")
				}
				p.Q931Call = NoCallToken
			}
		} else {
			for _, p := range c.members {
				if p != nil {
					p.Flags.InAlarm = true
				}
			}
		}
		c.mu.Unlock()

	case PRIRestartChannel:
		c.restartChannel(ev.Channel)

	case PRIRestartSpan:
		for _, p := range c.members {
			if p != nil {
				c.restartChannel(p.Channel)
			}
		}

	case PRIRestartAck:
		c.mu.Lock()
		if p := c.portByChannel(ev.Channel); p != nil {
			p.Flags.Resetting = false
		}
		c.mu.Unlock()

	case PRIRing:
		c.handleRing(ev)

	case PRIProceeding:
		c.setCondFlag(ev.Channel, func(p *Port) { p.Flags.Proceeding = true }, NeedFlag(0))
	case PRIProgress:
		c.setCondFlag(ev.Channel, func(p *Port) { p.Flags.Progress = true }, NeedFlag(0))
	case PRIRinging:
		c.setCondFlag(ev.Channel, func(p *Port) { p.Flags.Alerting = true }, NeedRing)

	case PRIAnswer:
		c.handleAnswer(ev)

	case PRIHangupReq, PRIHangup:
		c.handleHangup(ev)

	case PRISetupAck:
		c.mu.Lock()
		p := c.portByChannel(ev.Channel)
		c.mu.Unlock()
		if p != nil && p.FinalDialString != "" {
			_ = c.lib.Information(p.Q931Call, p.FinalDialString)
			p.FinalDialString = ""
		}

	case PRINotifyHold:
		c.setCondFlag(ev.Channel, nil, NeedHold)
	case PRINotifyRetrieve:
		c.setCondFlag(ev.Channel, nil, NeedUnhold)

	case PRIKeypadDigit, PRIInfoReceived:
		c.mu.Lock()
		p := c.portByChannel(ev.Channel)
		c.mu.Unlock()
		if p != nil && c.cfg.OverlapDial != "no" && c.cfg.OverlapDial != "outgoing" {
			for _, r := range ev.Digits {
				p.PushDigit(r)
			}
		}
	}
}

func (c *PRIController) portByChannel(channel int) *Port {
	for _, p := range c.members {
		if p != nil && p.Channel == channel {
			return p
		}
	}
	return nil
}

func (c *PRIController) restartChannel(channel int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.portByChannel(channel)
	if p == nil {
		return
	}
	if s := p.sub[p.active]; s != nil && s.Owner != nil {
		s.Owner.SoftHangup("restart")
	}
	p.Flags.Resetting = true
	p.Q931Call = NoCallToken
}

func (c *PRIController) setCondFlag(channel int, set func(*Port), need NeedFlag) {
	c.mu.Lock()
	p := c.portByChannel(channel)
	c.mu.Unlock()
	if p == nil {
		return
	}
	if set != nil {
		set(p)
	}
	if need != 0 {
		if s := p.sub[p.active]; s != nil {
			s.Pend(need)
		}
	}
	if p.CallProgressMask&callProgressInbandAvailable != 0 {
		_ = p.dev.ToneDetect(true, false)
	}
}

// handleRing implements §4.9's RING row: principal-channel resolution,
// glare handling, dialplan prefix application, and either direct PBX
// dispatch or a spawned overlap-dial digit-collection worker.
func (c *PRIController) handleRing(ev PRIEvent) {
	c.mu.Lock()
	p := c.portByChannel(ev.Channel)
	if p == nil || (p.active != SubReal || p.sub[SubReal] == nil) {
		// Glare: find any empty member unless exclusive was requested.
		if !ev.Exclusive {
			for _, cand := range c.members {
				if cand != nil && cand.State == StateDown {
					p = cand
					break
				}
			}
		}
	}
	if p == nil {
		c.mu.Unlock()
		return
	}
	p.State = StateRing
	p.Q931Call = ev.Call
	p.CID.Number = ev.CallingNum
	p.DialedNumber = ev.CalledNum
	c.mu.Unlock()

	calling := applyDialplanPrefix(ev.CallingNum, c.cfg.Dialplan)
	p.CID.Number = calling

	if c.matcher == nil || c.pbx == nil {
		return
	}

	if ev.Complete || c.cfg.OverlapDial == "no" || c.cfg.OverlapDial == "outgoing" {
		switch c.matcher.Match(p.Context, ev.CalledNum) {
		case MatchExact:
			_ = c.pbx.Run(p, p.Context, ev.CalledNum)
		default:
			p.Flags.AlreadyHungup = true
		}
		return
	}

	if c.matcher.Match(p.Context, ev.CalledNum) == MatchExact {
		_ = c.pbx.Run(p, p.Context, ev.CalledNum)
		return
	}
	p.Flags.Proceeding = true
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), MatchDigitTimeout+GenDigitTimeout)
		defer cancel()
		if err := c.collector.CollectPRIOverlap(ctx, p, ev.CalledNum); err != nil {
			p.Flags.AlreadyHungup = true
		}
	}()
}

// applyDialplanPrefix applies the configured TON/NPI prefix rule: "-2"
// strips a redundant prefix the far end duplicated, "-1" and "" leave the
// number unchanged (no dynamic detection is done), anything else is a
// literal prefix string to prepend.
func applyDialplanPrefix(number, dialplan string) string {
	switch dialplan {
	case "-2":
		return trimRedundantPrefix(number)
	case "-1", "":
		return number
	default:
		return dialplan + number
	}
}

func trimRedundantPrefix(number string) string {
	if len(number) > 1 && number[0] == number[1] {
		return number[1:]
	}
	return number
}

func (c *PRIController) handleAnswer(ev PRIEvent) {
	c.mu.Lock()
	p := c.portByChannel(ev.Channel)
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.Lock()
	if p.Sig == SigGR303FXSKS || p.Sig == SigGR303FXOKS {
		_ = p.dev.Hook(HookOff)
	}
	if p.FinalDialString != "" {
		_ = p.dev.Dial(DialOp{Op: DialAppend, Digits: p.FinalDialString})
		p.FinalDialString = ""
	}
	if s := p.sub[p.active]; s != nil {
		s.Pend(NeedAnswer)
	}
	p.Unlock()
}

func (c *PRIController) handleHangup(ev PRIEvent) {
	c.mu.Lock()
	p := c.portByChannel(ev.Channel)
	c.mu.Unlock()
	if p == nil {
		return
	}
	p.Lock()
	defer p.Unlock()

	s := p.sub[p.active]
	if s == nil || s.Owner == nil {
		p.Q931Call = NoCallToken
		return
	}
	switch causeClass(ev.Cause) {
	case causeBusy:
		s.Pend(NeedBusy)
	case causeCongestion:
		s.Pend(NeedCongestion)
	default:
		s.Owner.SoftHangup("pri hangup")
	}
	p.Q931Call = NoCallToken
}

type causeKind int

const (
	causeOther causeKind = iota
	causeBusy
	causeCongestion
)

func causeClass(cause int) causeKind {
	switch cause {
	case 17: // User busy
		return causeBusy
	case 34, 38, 42, 44: // No circuit/channel, network out of order, switching equipment congestion, requested channel unavailable
		return causeCongestion
	default:
		return causeOther
	}
}

// runIdleCallManagement implements §4.9's idle-call management: hangup the
// oldest idle call if unused B-channels would drop below minunused while
// minidle idle calls exist; spawn a new idle call (throttled to one per
// second) if unused is below threshold and an idle extension is configured.
func (c *PRIController) runIdleCallManagement() {
	c.mu.Lock()
	defer c.mu.Unlock()

	unused, idle := 0, 0
	var oldestIdle *Port
	for _, p := range c.members {
		if p == nil {
			continue
		}
		if p.State == StateDown {
			unused++
		}
		if p.Flags.IsIdleCall {
			idle++
			if oldestIdle == nil || p.OnHookTime.Before(oldestIdle.OnHookTime) {
				oldestIdle = p
			}
		}
	}

	if unused < c.cfg.MinUnused && idle > 0 && idle >= c.cfg.MinIdle && oldestIdle != nil {
		if s := oldestIdle.sub[oldestIdle.active]; s != nil && s.Owner != nil {
			s.Owner.SoftHangup("idle reclaim")
		}
		oldestIdle.Flags.IsIdleCall = false
		return
	}

	if unused < c.cfg.MinUnused && c.cfg.IdleExt != "" {
		if time.Since(c.lastIdle) < time.Second {
			return
		}
		for _, p := range c.members {
			if p != nil && p.State == StateDown {
				p.Flags.IsIdleCall = true
				p.Call(c.cfg.IdleDial, 0)
				c.lastIdle = time.Now()
				return
			}
		}
	}
}

// runPeriodicReset implements §4.9's periodic reset: while resetinterval
// is positive (0 disables), each call advances a cursor through the member
// array, marking the next idle Port resetting and issuing a library reset.
// Run calls it once per poll-loop pass; the interval's value does not pace
// the resets.
func (c *PRIController) runPeriodicReset() {
	if c.cfg.ResetIntervalSeconds <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.members) == 0 {
		return
	}
	for i := 0; i < len(c.members); i++ {
		idx := (c.resetCursor + i) % len(c.members)
		p := c.members[idx]
		if p == nil || p.State != StateDown || p.Flags.Resetting {
			continue
		}
		p.Flags.Resetting = true
		_ = c.lib.Reset(p.Q931Call)
		c.resetCursor = (idx + 1) % len(c.members)
		return
	}
}
