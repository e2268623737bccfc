package engine

// SS7 ISUP controller, spec §4.10. Structurally mirrors the PRI controller
// (pri.go): one goroutine per linkset driving an ISUP library through its
// own poll loop, with its own event table.

import (
	"context"
	"sync"
	"time"
)

// ISUPLibrary is the external collaborator this controller drives; see the
// note on Q931Library in pri.go — the engine never re-implements ISUP.
type ISUPLibrary interface {
	Schedule() time.Duration
	CheckEvent(fd int) (ISUPEvent, bool)
	SendRLC(cic int) error
	SendGRA(cicFirst, cicLast int) error
	SendCQR(cicFirst, cicLast int, status []byte) error
	SendCGBA(cicFirst, cicLast int) error
	SendCGUA(cicFirst, cicLast int) error
	SendLPA(cic int) error
	StartLoopback(cic int) error
	StopLoopback(cic int) error
	StartCall(cic int) error
}

// ISUPEventKind enumerates §4.10's notable events.
type ISUPEventKind int

const (
	ISUPRSC ISUPEventKind = iota
	ISUPGRS
	ISUPCQM
	ISUPCGB
	ISUPCGU
	ISUPBLO
	ISUPBLA
	ISUPUBL
	ISUPUBA
	ISUPIAM
	ISUPCOT
	ISUPCCR
	ISUPACM
	ISUPCPG
	ISUPCON
	ISUPANM
	ISUPREL
	ISUPRLC
)

// ISUPEvent is one decoded library event.
type ISUPEvent struct {
	Kind         ISUPEventKind
	CIC          int
	CICFirst     int
	CICLast      int
	DPC          int
	CallingNum   string
	CalledNum    string
	NAI          string
	ChargeNumber string
	GenericAddr  string
	GenericDigit string
	JIP          string
	CallRefIdent int
	CallRefPC    int
	Cause        int
	HasCallRef   bool
}

// SS7Linkset is the provisioned identity of one SS7 linkset: point code,
// adjacent point code, and the CIC-range members it carries.
type SS7Linkset struct {
	Name             string
	PointCode        int
	AdjPointCode     int
	CotCheckRequired bool

	mu      sync.Mutex
	members map[int]*Port // CIC -> Port
}

// NewSS7Linkset constructs a linkset with no members bound yet; callers
// populate it via BindCIC during provisioning.
func NewSS7Linkset(name string, pointCode, adjPointCode int, cotCheck bool) *SS7Linkset {
	return &SS7Linkset{
		Name: name, PointCode: pointCode, AdjPointCode: adjPointCode,
		CotCheckRequired: cotCheck, members: make(map[int]*Port),
	}
}

// BindCIC associates a CIC with its backing Port.
func (ls *SS7Linkset) BindCIC(cic int, p *Port) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.members[cic] = p
	p.Linkset = ls
	p.CIC = cic
}

func (ls *SS7Linkset) portByCIC(cic int) *Port {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.members[cic]
}

func (ls *SS7Linkset) cicsInRange(first, last int) []int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	var out []int
	for cic := range ls.members {
		if cic >= first && cic <= last {
			out = append(out, cic)
		}
	}
	return out
}

// SS7Controller runs one linkset's event loop.
type SS7Controller struct {
	lib     ISUPLibrary
	linkset *SS7Linkset
	fds     []int

	matcher ExtensionMatcher
	pbx     PBXRunner
	cm      *ConferenceManager
}

// NewSS7Controller constructs a controller for one linkset.
func NewSS7Controller(lib ISUPLibrary, linkset *SS7Linkset, fds []int, matcher ExtensionMatcher, pbx PBXRunner, cm *ConferenceManager) *SS7Controller {
	return &SS7Controller{lib: lib, linkset: linkset, fds: fds, matcher: matcher, pbx: pbx, cm: cm}
}

// Run drives the poll loop until ctx is cancelled.
func (c *SS7Controller) Run(ctx context.Context) error {
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
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(timeout):
		}

		for _, fd := range c.fds {
			ev, ok := c.lib.CheckEvent(fd)
			if !ok {
				continue
			}
			c.dispatch(ev)
		}
	}
}

// dispatch implements §4.10's event table.
func (c *SS7Controller) dispatch(ev ISUPEvent) {
	switch ev.Kind {
	case ISUPRSC:
		if p := c.linkset.portByCIC(ev.CIC); p != nil {
			p.Lock()
			p.Flags.InService = true
			p.Flags.RemotelyBlocked = false
			p.Unlock()
			_ = c.lib.SendRLC(ev.CIC)
		}

	case ISUPGRS:
		for _, cic := range c.linkset.cicsInRange(ev.CICFirst, ev.CICLast) {
			if p := c.linkset.portByCIC(cic); p != nil {
				p.Lock()
				p.Flags.RemotelyBlocked = false
				p.Unlock()
			}
		}
		_ = c.lib.SendGRA(ev.CICFirst, ev.CICLast)

	case ISUPCQM:
		cics := c.linkset.cicsInRange(ev.CICFirst, ev.CICLast)
		status := make([]byte, len(cics))
		for i, cic := range cics {
			p := c.linkset.portByCIC(cic)
			if p == nil {
				continue
			}
			p.Lock()
			status[i] = cicStatusByte(p)
			p.Unlock()
		}
		_ = c.lib.SendCQR(ev.CICFirst, ev.CICLast, status)

	case ISUPCGB:
		for _, cic := range c.linkset.cicsInRange(ev.CICFirst, ev.CICLast) {
			if p := c.linkset.portByCIC(cic); p != nil {
				p.Lock()
				p.Flags.RemotelyBlocked = true
				p.Unlock()
			}
		}
		_ = c.lib.SendCGBA(ev.CICFirst, ev.CICLast)

	case ISUPCGU:
		for _, cic := range c.linkset.cicsInRange(ev.CICFirst, ev.CICLast) {
			if p := c.linkset.portByCIC(cic); p != nil {
				p.Lock()
				p.Flags.RemotelyBlocked = false
				p.Unlock()
			}
		}
		_ = c.lib.SendCGUA(ev.CICFirst, ev.CICLast)

	case ISUPBLO:
		c.setBlocked(ev.CIC, true, false)
	case ISUPBLA:
		c.setBlocked(ev.CIC, false, true)
	case ISUPUBL:
		c.setBlocked(ev.CIC, false, false)
	case ISUPUBA:
		c.setBlocked(ev.CIC, false, false)

	case ISUPIAM:
		c.handleIAM(ev)

	case ISUPCOT:
		if p := c.linkset.portByCIC(ev.CIC); p != nil {
			_ = c.lib.StopLoopback(ev.CIC)
			_ = c.lib.StartCall(ev.CIC)
			p.Lock()
			p.State = StateRing
			p.Unlock()
		}

	case ISUPCCR:
		_ = c.lib.StartLoopback(ev.CIC)
		_ = c.lib.SendLPA(ev.CIC)

	case ISUPACM, ISUPCPG:
		if p := c.linkset.portByCIC(ev.CIC); p != nil {
			p.Lock()
			if ev.Kind == ISUPACM {
				p.Flags.Proceeding = true
			} else {
				p.Flags.Progress = true
			}
			if ev.HasCallRef {
				p.Flags.RLT = true
				p.CallRefIdent = ev.CallRefIdent
				p.CallRefPC = ev.CallRefPC
			}
			if s := p.sub[p.active]; s != nil {
				s.Pend(NeedRing)
			}
			p.Unlock()
		}

	case ISUPCON, ISUPANM:
		if p := c.linkset.portByCIC(ev.CIC); p != nil {
			p.Lock()
			p.State = StateUp
			p.Flags.EchoCancelOn = true
			_ = p.dev.EchoCancelParams(p.EchoCancelParamList)
			if s := p.sub[p.active]; s != nil {
				s.Pend(NeedAnswer)
			}
			p.Unlock()
		}

	case ISUPREL:
		if p := c.linkset.portByCIC(ev.CIC); p != nil {
			p.Lock()
			if s := p.sub[p.active]; s != nil && s.Owner != nil {
				s.Owner.SoftHangup("isup release")
			}
			p.ISUPCall = NoCallToken
			p.Unlock()
		}

	case ISUPRLC:
		if p := c.linkset.portByCIC(ev.CIC); p != nil {
			p.Lock()
			p.ISUPCall = NoCallToken
			p.State = StateDown
			p.Unlock()
		}
	}
}

func (c *SS7Controller) setBlocked(cic int, local, remote bool) {
	p := c.linkset.portByCIC(cic)
	if p == nil {
		return
	}
	p.Lock()
	if local {
		p.Flags.LocallyBlocked = true
	} else {
		p.Flags.LocallyBlocked = false
	}
	if remote {
		p.Flags.RemotelyBlocked = true
	}
	p.Unlock()
}

// cicStatusByte packs the four-bit status CQR reports per CIC: local
// blocked, remote blocked, outgoing active, incoming active.
func cicStatusByte(p *Port) byte {
	var b byte
	if p.Flags.LocallyBlocked {
		b |= 1 << 0
	}
	if p.Flags.RemotelyBlocked {
		b |= 1 << 1
	}
	if p.State != StateDown && p.Flags.Outgoing {
		b |= 1 << 2
	}
	if p.State != StateDown && !p.Flags.Outgoing {
		b |= 1 << 3
	}
	return b
}

// handleIAM implements §4.10's IAM row: copy called/calling numbers as
// received, stash charge/generic/JIP fields, and either enter
// continuity-check loopback or start the call directly. No NAI or
// prefix-table rewriting is applied, and ANI2/OLI are not set.
func (c *SS7Controller) handleIAM(ev ISUPEvent) {
	p := c.linkset.portByCIC(ev.CIC)
	if p == nil {
		return
	}
	p.Lock()
	p.ISUPCall = NoCallToken
	p.DPC = ev.DPC
	p.CID.Number = ev.CallingNum
	p.DialedNumber = ev.CalledNum
	p.ChargeNumber = ev.ChargeNumber
	p.GenericAddress = ev.GenericAddr
	p.GenericDigits = ev.GenericDigit
	p.JIP = ev.JIP
	p.State = StateRing
	cotRequired := c.linkset.CotCheckRequired
	p.Unlock()

	if cotRequired {
		_ = c.lib.StartLoopback(ev.CIC)
		return
	}
	_ = c.lib.StartCall(ev.CIC)

	if c.matcher == nil || c.pbx == nil {
		return
	}
	if c.matcher.Match(p.Context, ev.CalledNum) == MatchExact {
		_ = c.pbx.Run(p, p.Context, ev.CalledNum)
	}
}

// ResetLinkset implements §4.10's periodic linkset reset: group-RSC the
// linkset in 31-CIC windows grouped by DPC, run once a linkset comes UP.
func (c *SS7Controller) ResetLinkset() error {
	byDPC := make(map[int][]int)
	c.linkset.mu.Lock()
	for cic, p := range c.linkset.members {
		byDPC[p.DPC] = append(byDPC[p.DPC], cic)
	}
	c.linkset.mu.Unlock()

	for _, cics := range byDPC {
		for i := 0; i < len(cics); i += 31 {
			end := i + 31
			if end > len(cics) {
				end = len(cics)
			}
			window := cics[i:end]
			first, last := window[0], window[0]
			for _, cic := range window {
				if cic < first {
					first = cic
				}
				if cic > last {
					last = cic
				}
			}
			if err := c.lib.SendGRA(first, last); err != nil {
				return err
			}
		}
	}
	return nil
}
