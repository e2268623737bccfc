package engine

// Conference manager, spec §4.3.
//
// Decides, for every Port and every change, which sub-channels participate
// in which hardware conference; supports a zero-copy "slave native" mode
// when exactly one slave exists and laws match.

import "sync/atomic"

var confNoCounter int64

// nextConfNo allocates a conference number the way the device's implicit
// SETCONF(confno=0) assignment would, per spec §5 "Shared hardware":
// "Conference allocation is implicit ... Ports cache the returned number".
func nextConfNo() int {
	return int(atomic.AddInt64(&confNoCounter, 1))
}

// ConferenceManager runs the §4.3 update algorithm against a Port.
type ConferenceManager struct {
	log func(string, ...any)
}

// NewConferenceManager constructs a manager; log may be nil.
func NewConferenceManager() *ConferenceManager {
	return &ConferenceManager{}
}

// Update runs the six-step algorithm of §4.3 against p. Callers must hold
// p's mutex (and the mutex of any slave/master touched transitively is
// acquired here following the Channel→Port lock ordering).
func (cm *ConferenceManager) Update(p *Port) {
	// Step 1: slave-native eligibility.
	slave, hasSoleSlave := p.SoleSlave()
	noThreeWay := true
	for i := SubIndex(0); i < subCount; i++ {
		if s := p.sub[i]; s != nil && s.InThreeWay {
			noThreeWay = false
		}
	}
	slaveNative := noThreeWay && hasSoleSlave && slave.Law == p.Law

	needConf := 0

	// Step 2: attach/detach three-way sub-channels.
	for i := SubIndex(0); i < subCount; i++ {
		s := p.sub[i]
		if s == nil {
			continue
		}
		if s.InThreeWay {
			if p.ConfNo == 0 {
				p.ConfNo = nextConfNo()
			}
			cm.confAdd(p, s, ConferenceDescriptor{
				Mode: ConfTalkerListener, ConfNo: p.ConfNo, DeviceChannel: p.Channel,
			})
			needConf++
		} else {
			cm.confDelIfOurs(p, s)
		}
	}

	// Step 3: attach slaves.
	if hasSoleSlave {
		slave.mu.Lock()
		slaveReal := slave.sub[SubReal]
		slave.mu.Unlock()
		if slaveReal != nil {
			if slaveNative {
				cm.confAdd(p, slaveReal, ConferenceDescriptor{
					Mode: ConfDigitalMonitor, DeviceChannel: p.Channel,
				})
			} else {
				if p.ConfNo == 0 {
					p.ConfNo = nextConfNo()
				}
				cm.confAdd(p, slaveReal, ConferenceDescriptor{
					Mode: ConfTalkerListener, ConfNo: p.ConfNo, DeviceChannel: p.Channel,
				})
				needConf++
			}
		}
	} else {
		for i := 0; i < p.numSlaves; i++ {
			sl := p.Slaves[i]
			sl.mu.Lock()
			slReal := sl.sub[SubReal]
			sl.mu.Unlock()
			if slReal != nil {
				if p.ConfNo == 0 {
					p.ConfNo = nextConfNo()
				}
				cm.confAdd(p, slReal, ConferenceDescriptor{
					Mode: ConfTalkerListener, ConfNo: p.ConfNo, DeviceChannel: p.Channel,
				})
				needConf++
			}
		}
	}

	// Step 4: the Port's own REAL, if marked "in conference".
	if real := p.sub[SubReal]; real != nil && p.InConference && !real.InThreeWay {
		if slaveNative {
			cm.confAdd(p, real, ConferenceDescriptor{
				Mode: ConfDigitalMonitor, DeviceChannel: slave.Channel,
			})
		} else {
			if p.ConfNo == 0 {
				p.ConfNo = nextConfNo()
			}
			cm.confAdd(p, real, ConferenceDescriptor{
				Mode: ConfTalkerListener, ConfNo: p.ConfNo, DeviceChannel: p.Channel,
			})
			needConf++
		}
	}

	// Step 5: attach to master's conference, if any.
	if p.Master != nil {
		m := p.Master
		m.mu.Lock()
		masterSlave, masterIsSlaveNative := m.SoleSlave()
		masterConfNo := m.ConfNo
		m.mu.Unlock()

		if real := p.sub[SubReal]; real != nil {
			if masterIsSlaveNative && masterSlave == p && real.Law == m.Law {
				cm.confAdd(p, real, ConferenceDescriptor{
					Mode: ConfDigitalMonitor, DeviceChannel: m.Channel,
				})
			} else {
				cm.confAdd(p, real, ConferenceDescriptor{
					Mode: ConfTalkerListener, ConfNo: masterConfNo, DeviceChannel: m.Channel,
				})
			}
		}
	}

	// Step 6: release the conference number if nothing needs it anymore.
	if needConf == 0 && !cm.hasExternalParticipant(p) {
		p.ConfNo = 0
	}
}

// hasExternalParticipant reports whether any slave or master still
// references this Port's conference, used by step 6's release decision.
func (cm *ConferenceManager) hasExternalParticipant(p *Port) bool {
	if p.Master != nil {
		return true
	}
	return p.numSlaves > 0
}

// confAdd is idempotent: it compares the requested descriptor to the
// cached one and skips the ioctl when equal, per §4.3.
func (cm *ConferenceManager) confAdd(p *Port, s *Subchannel, desc ConferenceDescriptor) {
	if s.ConfValid() && s.CachedConf == desc {
		return
	}
	dev := s.Device()
	if dev == nil {
		dev = p.dev
	}
	if err := dev.ConfSet(desc); err != nil {
		return
	}
	s.SetConf(desc)
}

// confDelIfOurs detaches s, refusing to detach from a conference that is
// not ours: identified by matching conference number and a talker-capable
// mode, or by digital-monitor of our own channel.
func (cm *ConferenceManager) confDelIfOurs(p *Port, s *Subchannel) {
	if !s.ConfValid() {
		return
	}
	cur := s.CachedConf
	ours := (cur.Mode == ConfTalkerListener && cur.ConfNo == p.ConfNo && p.ConfNo != 0) ||
		(cur.Mode == ConfDigitalMonitor && cur.DeviceChannel == p.Channel)
	if !ours {
		return
	}
	dev := s.Device()
	if dev == nil {
		dev = p.dev
	}
	_ = dev.ConfSet(ConferenceDescriptor{Mode: ConfNone})
	s.ClearConf()
}

// SaveConference captures the sub-channel's current descriptor before a
// Caller-ID spill (which requires plain-conference mode), per §4.3
// save_conference.
func (cm *ConferenceManager) SaveConference(p *Port) {
	real := p.sub[SubReal]
	if real == nil {
		return
	}
	p.savedConf = real.CachedConf
	p.savedConfValid = real.ConfValid()
}

// RestoreConference restores the descriptor SaveConference captured. It
// restores unconditionally: a CAS-CW spill is handled like any other, and
// no mute-expiry timer delays or replaces the restore.
func (cm *ConferenceManager) RestoreConference(p *Port) {
	real := p.sub[SubReal]
	if real == nil || !p.savedConfValid {
		return
	}
	cm.confAdd(p, real, p.savedConf)
}
