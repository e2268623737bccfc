package engine

// Operator / management interface, spec §6.4.
//
// The transport the management surface rides (TCP line protocol, the
// dnssd-announced socket in discovery.go) is out of scope; this file is the
// handler layer the daemon's listener calls into, which cmd/tdmctl reaches
// over that TCP surface.

import (
	"fmt"
	"time"
)

// OperatorResponse is the structured success/error result every operator
// command returns, per §6.4 "each acknowledged with a structured
// success/error response".
type OperatorResponse struct {
	OK      bool   `json:"ok"`
	Channel int    `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

func opOK(channel int, format string, args ...any) OperatorResponse {
	return OperatorResponse{OK: true, Channel: channel, Message: fmt.Sprintf(format, args...)}
}

func opErr(channel int, err error) OperatorResponse {
	return OperatorResponse{OK: false, Channel: channel, Message: err.Error()}
}

// ChannelSummary is one row of the ShowChannels response.
type ChannelSummary struct {
	Channel int    `json:"channel"`
	Span    int    `json:"span"`
	Sig     string `json:"sig"`
	State   string `json:"state"`
	CID     string `json:"cid"`
	DND     bool   `json:"dnd"`
	InAlarm bool   `json:"in_alarm"`
}

// OperatorInterface binds the §6.4 command set to a running engine.
type OperatorInterface struct {
	registry *Registry
	cm       *ConferenceManager
	three    *ThreeWayController
}

// NewOperatorInterface constructs the handler against the live Port
// registry and its conference/three-way collaborators.
func NewOperatorInterface(registry *Registry, cm *ConferenceManager, three *ThreeWayController) *OperatorInterface {
	return &OperatorInterface{registry: registry, cm: cm, three: three}
}

func (o *OperatorInterface) find(channel int) (*Port, error) {
	p, ok := o.registry.ByChannel(channel)
	if !ok {
		return nil, fmt.Errorf("no such channel %d", channel)
	}
	return p, nil
}

// DialOffhook originates an outbound call on channel toward number,
// bypassing the PBX dialplan entirely (a direct operator-initiated call).
func (o *OperatorInterface) DialOffhook(channel int, number string) OperatorResponse {
	p, err := o.find(channel)
	if err != nil {
		return opErr(channel, err)
	}
	if err := p.Call(number, 30*time.Second); err != nil {
		return opErr(channel, err)
	}
	return opOK(channel, "dialing %s", number)
}

// Hangup ends whatever call currently owns channel's active sub-channel.
func (o *OperatorInterface) Hangup(channel int) OperatorResponse {
	p, err := o.find(channel)
	if err != nil {
		return opErr(channel, err)
	}
	p.Lock()
	s := p.sub[p.active]
	p.Unlock()
	if s == nil || s.Owner == nil {
		return opErr(channel, fmt.Errorf("channel %d has no active call", channel))
	}
	s.Owner.SoftHangup("operator hangup")
	return opOK(channel, "hangup requested")
}

// Transfer attempts the §4.7 blind transfer the subscriber staged by
// flashing, dialing a destination into the THREEWAY leg, then going
// on-hook: the operator surface can trigger the same completion path
// out of band.
func (o *OperatorInterface) Transfer(channel int) OperatorResponse {
	p, err := o.find(channel)
	if err != nil {
		return opErr(channel, err)
	}
	p.Lock()
	ok := o.three != nil && o.three.AttemptTransfer(p)
	p.Unlock()
	if !ok {
		return opErr(channel, fmt.Errorf("channel %d has no pending transfer", channel))
	}
	return opOK(channel, "transfer completed")
}

// DNDon / DNDoff toggle the Do-Not-Disturb flag.
func (o *OperatorInterface) DNDon(channel int) OperatorResponse  { return o.setDND(channel, true) }
func (o *OperatorInterface) DNDoff(channel int) OperatorResponse { return o.setDND(channel, false) }

func (o *OperatorInterface) setDND(channel int, on bool) OperatorResponse {
	p, err := o.find(channel)
	if err != nil {
		return opErr(channel, err)
	}
	p.Lock()
	p.Flags.DND = on
	p.Unlock()
	word := "disabled"
	if on {
		word = "enabled"
	}
	return opOK(channel, "dnd %s", word)
}

// ShowChannels reports a summary of every Port, or one if channel > 0.
func (o *OperatorInterface) ShowChannels(channel int) []ChannelSummary {
	var ports []*Port
	if channel > 0 {
		if p, ok := o.registry.ByChannel(channel); ok {
			ports = []*Port{p}
		}
	} else {
		ports = o.registry.All()
	}

	out := make([]ChannelSummary, 0, len(ports))
	for _, p := range ports {
		p.Lock()
		out = append(out, ChannelSummary{
			Channel: p.Channel, Span: p.Span, Sig: p.Sig.String(),
			State: p.State.String(), CID: p.CID.Number,
			DND: p.Flags.DND, InAlarm: p.Flags.InAlarm,
		})
		p.Unlock()
	}
	return out
}

// Restart soft-hangs-up the owner of every registered Port's active
// sub-channel and marks each Port resetting, the operator-initiated
// equivalent of a controller-thread restart; it does
// not itself restart any PRI/SS7 controller goroutine, which the caller
// (cmd/tdmchand) owns the lifecycle of.
func (o *OperatorInterface) Restart() OperatorResponse {
	for _, p := range o.registry.All() {
		p.Lock()
		if s := p.sub[p.active]; s != nil && s.Owner != nil {
			s.Owner.SoftHangup("operator restart")
		}
		p.Flags.Resetting = true
		p.Unlock()
	}
	return opOK(0, "restart requested for %d channels", len(o.registry.All()))
}
