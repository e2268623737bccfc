package engine

// Monitor thread, spec §4.11. One goroutine, ticking every second, that
// polls every unowned signaling Port for pending events, drives the
// once-per-pass mailbox check, and spawns the transient simple-switch and
// MWI-probe workers.

import (
	"context"
	"sync"
	"time"
)

// MWIMailboxChecker is the PBX-side mailbox state query the monitor
// consults during its once-per-pass visit, per §4.11.
type MWIMailboxChecker interface {
	// HasNewMessages reports whether mailbox has unread messages, and
	// whether that is a change from the last observed state.
	HasNewMessages(mailbox string) (hasNew, changed bool, err error)
}

// MWIEnergyThreshold is the default mean-abs sample-energy threshold above
// which POLLIN on an MWI-monitored line spawns a probe worker.
const MWIEnergyThreshold = 800

const mailboxMinOnHook = 3 * time.Second
const onHookTransferWindow = 4 * time.Second

// Monitor runs the §4.11 poll loop against a registered set of Ports.
type Monitor struct {
	mu       sync.Mutex
	registry *Registry
	analog   *AnalogEventHandler
	digit    *DigitCollector
	mailbox  MWIMailboxChecker
	cm       *ConferenceManager

	visitCursor int
	immediate   map[int]bool // channel -> immediate-answer flag
}

// NewMonitor constructs a Monitor bound to the given collaborators.
func NewMonitor(registry *Registry, analog *AnalogEventHandler, digit *DigitCollector, mailbox MWIMailboxChecker, cm *ConferenceManager) *Monitor {
	return &Monitor{
		registry:  registry,
		analog:    analog,
		digit:     digit,
		mailbox:   mailbox,
		cm:        cm,
		immediate: make(map[int]bool),
	}
}

// SetImmediate marks a channel for immediate-answer on ring/offhook rather
// than spawning the simple-switch digit-collection worker.
func (m *Monitor) SetImmediate(channel int, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.immediate[channel] = on
}

// Run ticks once a second until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.pass()
		}
	}
}

// pass runs one second's worth of §4.11 work: the poll-set sweep plus one
// mailbox visit.
func (m *Monitor) pass() {
	ports := m.pollCandidates()
	for _, p := range ports {
		m.pollOne(p)
	}
	m.visitNextMailbox(ports)
}

// pollCandidates selects the Ports this pass should poll: unowned,
// signaling-bearing but not digital (PRI/SS7 Ports are driven by their
// controllers), and not currently running an MWI probe.
func (m *Monitor) pollCandidates() []*Port {
	all := m.registry.All()
	out := make([]*Port, 0, len(all))
	for _, p := range all {
		p.Lock()
		eligible := p.sub[p.active] == nil || p.sub[p.active].Owner == nil
		eligible = eligible && p.Sig != SigUnknown && p.Sig != SigPseudo && !p.Sig.IsDigital()
		mwiActive := p.Flags.MWIMonitorActive
		p.Unlock()
		if eligible && !mwiActive {
			out = append(out, p)
		}
	}
	return out
}

// pollOne fetches and dispatches one Port's pending hardware event, per
// §4.11's "pseudo-PR event forwarding", spawning a simple-switch worker
// (or answering immediately) on ring/offhook.
func (m *Monitor) pollOne(p *Port) {
	p.Lock()
	dev := p.dev
	p.Unlock()
	if dev == nil {
		return
	}

	ev, err := dev.GetEvent()
	if err != nil || ev.Kind == EventNone {
		return
	}

	p.Lock()
	immediate := m.isImmediate(p.Channel)
	p.Unlock()

	if m.analog != nil {
		p.Lock()
		_ = m.analog.Handle(p, ev)
		p.Unlock()
	}

	if ev.Kind != EventRingOffhook {
		return
	}

	if immediate {
		_ = p.Answer()
		return
	}

	if m.digit != nil {
		p.Lock()
		isFXS := p.Sig.IsFXS()
		p.Unlock()

		if isFXS {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), fxsCIDTimeout)
				defer cancel()
				_ = m.digit.CollectFXSCallerID(ctx, p)
			}()
		} else {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), FirstDigitTimeout+GenDigitTimeout)
				defer cancel()
				_ = m.digit.CollectFXO(ctx, p)
			}()
		}
	}

	if p.Flags.MWIMonitor {
		m.checkEnergy(p)
	}
}

func (m *Monitor) isImmediate(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.immediate[channel]
}

// checkEnergy computes mean-abs sample energy over one read and, if above
// threshold, spawns an MWI-probe worker seeded with the captured buffer.
func (m *Monitor) checkEnergy(p *Port) {
	frame, err := p.Read()
	if err != nil || frame.Kind != FrameVoice {
		return
	}
	if sampleEnergy(p.Law, frame.Voice) < MWIEnergyThreshold {
		return
	}
	p.Lock()
	p.Flags.MWIMonitorActive = true
	p.Unlock()
	go runMWIProbe(p, frame.Voice, func() {
		p.Lock()
		p.Flags.MWIMonitorActive = false
		p.Unlock()
	})
}

func sampleEnergy(law Law, buf []byte) int64 {
	if len(buf) == 0 {
		return 0
	}
	var sum int64
	for _, b := range buf {
		s := int64(DecodeSample(law, b))
		if s < 0 {
			s = -s
		}
		sum += s
	}
	return sum / int64(len(buf))
}

// visitNextMailbox implements the once-per-pass "last visited" pointer:
// exactly one eligible Port (mailbox configured, FXO, not spilling, on-hook
// for at least 3 s) is checked per pass.
func (m *Monitor) visitNextMailbox(candidates []*Port) {
	if m.mailbox == nil || len(candidates) == 0 {
		return
	}
	m.mu.Lock()
	start := m.visitCursor
	m.mu.Unlock()

	for i := 0; i < len(candidates); i++ {
		idx := (start + i) % len(candidates)
		p := candidates[idx]

		p.Lock()
		eligible := p.Mailbox != "" && p.Sig.IsFXO() && !p.cidSpillActive &&
			!p.OnHookTime.IsZero() && time.Since(p.OnHookTime) >= mailboxMinOnHook
		mailbox := p.Mailbox
		p.Unlock()

		if !eligible {
			continue
		}

		hasNew, changed, err := m.mailbox.HasNewMessages(mailbox)
		m.mu.Lock()
		m.visitCursor = (idx + 1) % len(candidates)
		m.mu.Unlock()
		if err != nil || !changed {
			return
		}

		p.Lock()
		_ = p.dev.OnHookTransfer(int(onHookTransferWindow / time.Millisecond))
		p.Unlock()

		count := 0
		if hasNew {
			count = 1
		}
		spill, werr := CIDWaveform(p.Law, CIDSignalingBell, CIDMessage{})
		if werr == nil {
			p.Lock()
			adsi := NewADSISession(p)
			_ = p.dev.VMWI(count)
			if adsi != nil {
				if err := adsi.LoadSoftkeys(MWISoftkeyDefinition(hasNew)); err == nil {
					_ = adsi.Connect()
				}
			}
			_, _ = p.dev.Write(spill)
			p.Unlock()
		}
		return
	}
}
