package engine

// Native bridge, spec §4.4.

import (
	"time"
)

// BridgeEnd names one side of a bridge attempt.
type BridgeEnd struct {
	Port *Port
	Sub  SubIndex
}

// BridgeResult reports the outcome of NativeBridge.
type BridgeResult struct {
	Master, Slave *Port
	TransferTried bool
}

// NativeBridge attempts to collapse two Ports into a hardware path per
// §4.4's pairing table. It uses TryLock in channel→Port order and unwinds
// fully on contention, returning ErrLockInversion so the caller retries.
func NativeBridge(cm *ConferenceManager, a, b BridgeEnd) (*BridgeResult, error) {
	if a.Port == nil || b.Port == nil {
		return nil, ErrBridgeFallback
	}
	if a.Port.Sig == SigPseudo || b.Port.Sig == SigPseudo {
		return nil, ErrBridgeFallback
	}

	if !a.Port.TryLock() {
		return nil, ErrLockInversion
	}
	if a.Port != b.Port {
		if !b.Port.TryLock() {
			a.Port.Unlock()
			return nil, ErrLockInversion
		}
	}
	defer a.Port.Unlock()
	defer func() {
		if a.Port != b.Port {
			b.Port.Unlock()
		}
	}()

	subA := a.Port.sub[a.Sub]
	subB := b.Port.sub[b.Sub]
	if subA == nil || subB == nil || subA.Owner == nil || subB.Owner == nil {
		return nil, ErrBridgeFallback
	}

	var master, slave *Port
	switch {
	case a.Sub == SubReal && b.Sub == SubReal:
		if subA.InThreeWay || subB.InThreeWay {
			return nil, ErrBridgeFallback
		}
		master, slave = a.Port, b.Port
	case a.Sub == SubReal && b.Sub == SubThreeWay:
		master, slave = b.Port, a.Port
	case a.Sub == SubThreeWay && b.Sub == SubReal:
		master, slave = a.Port, b.Port
	case a.Sub == SubReal && b.Sub == SubCallWait:
		if !subB.InThreeWay {
			return nil, ErrBridgeFallback
		}
		master, slave = b.Port, a.Port
	case a.Sub == SubCallWait && b.Sub == SubReal:
		if !subA.InThreeWay {
			return nil, ErrBridgeFallback
		}
		master, slave = a.Port, b.Port
	default:
		return nil, ErrBridgeFallback
	}

	if a.Sub == SubReal && b.Sub == SubReal {
		if !a.Port.Flags.EchoCancelBridged || !b.Port.Flags.EchoCancelBridged {
			_ = a.Port.dev.EchoCancelDisable()
			_ = b.Port.dev.EchoCancelDisable()
			a.Port.Flags.EchoCancelOn = false
			b.Port.Flags.EchoCancelOn = false
		}
	}

	if !master.AddSlave(slave) {
		return nil, ErrBridgeFallback
	}
	master.InConference = true
	if cm != nil {
		cm.Update(master)
		cm.Update(slave)
	}

	result := &BridgeResult{Master: master, Slave: slave}

	if a.Port.PRIController != nil && b.Port.PRIController != nil &&
		a.Port.Flags.TransferAllowed && b.Port.Flags.TransferAllowed {
		result.TransferTried = true
	}

	return result, nil
}

// BreakBridge tears down a NativeBridge result: unlinks slave from master,
// re-enables echo cancellers that a REAL+REAL bridge disabled.
func BreakBridge(cm *ConferenceManager, r *BridgeResult) {
	if r == nil {
		return
	}
	r.Master.Lock()
	r.Master.RemoveSlave(r.Slave)
	r.Master.InConference = r.Master.numSlaves > 0
	r.Master.Unlock()

	r.Slave.Lock()
	if !r.Slave.Flags.EchoCancelOn {
		r.Slave.Flags.EchoCancelOn = true
		_ = r.Slave.dev.EchoCancelParams(r.Slave.EchoCancelParamList)
	}
	r.Slave.Unlock()

	r.Master.Lock()
	if !r.Master.Flags.EchoCancelOn {
		r.Master.Flags.EchoCancelOn = true
		_ = r.Master.dev.EchoCancelParams(r.Master.EchoCancelParamList)
	}
	r.Master.Unlock()

	if cm != nil {
		cm.Update(r.Master)
		cm.Update(r.Slave)
	}
}

// BridgeBreakTrigger enumerates the conditions of §4.4 that force a
// re-evaluation of an active bridge.
type BridgeBreakTrigger int

const (
	BreakTimeout BridgeBreakTrigger = iota
	BreakOwnerChanged
	BreakSubIndexChanged
	BreakPartyStateFlipped
	BreakFDChanged
)

// ShouldBreak is a convenience predicate a poll loop can use to decide
// whether any of §4.4's break conditions fired since the bridge was
// established, given the observation timestamp deadline.
func ShouldBreak(trigger BridgeBreakTrigger, deadline time.Time, now time.Time) bool {
	if trigger == BreakTimeout {
		return now.After(deadline)
	}
	return true
}

// ForwardDTMFPolicy decides, per §4.4, whether a DTMF frame from one side
// of a bridge should be forwarded as data (the peer is a pulse dialer and
// cannot originate DTMF) or surfaced to the PBX to terminate the bridge.
func ForwardDTMFPolicy(peerIsPulseDial bool) bool {
	return peerIsPulseDial
}
