package engine

// MWI probe, spec §2.10. A short-lived worker the monitor spawns when it
// detects carrier energy on an FXO line it is MWI-monitoring: runs the
// Caller-ID FSK decoder looking for a visual-MWI message-waiting flag.

import "time"

// MWIProbeTimeout bounds how long a probe worker waits for a complete FSK
// frame before giving up, mirroring §4.8's 10-second Caller-ID FSK budget.
const MWIProbeTimeout = 10 * time.Second

// runMWIProbe decodes law-encoded audio from p looking for a VMWI spill,
// seeded with the buffer checkEnergy already captured so the leading edge
// of the waveform isn't lost. done is called on every exit path (spec §7
// "every acquired ... Caller-ID spill buffer ... is released along every
// exit path").
func runMWIProbe(p *Port, seed []byte, done func()) {
	defer done()

	p.Lock()
	law := p.Law
	signaling := CIDSignalingBell
	dev := p.dev
	p.Unlock()

	decoder, err := NewFSKDecoder(law, signaling)
	if err != nil {
		return
	}

	if decoder.Feed(seed) {
		applyMWIDecode(p, decoder.Message())
		return
	}

	deadline := time.Now().Add(MWIProbeTimeout)
	buf := make([]byte, 320)
	for time.Now().Before(deadline) {
		p.Lock()
		owned := p.sub[p.active] != nil && p.sub[p.active].Owner != nil
		p.Unlock()
		if owned {
			// A hung-up owner terminates a Caller-ID-adjacent FSK
			// worker immediately; a live owner means this was never
			// an idle line to begin with.
			return
		}

		n, rerr := dev.Read(buf)
		if rerr != nil || n == 0 {
			return
		}
		if decoder.Feed(buf[:n]) {
			applyMWIDecode(p, decoder.Message())
			return
		}
	}
}

// applyMWIDecode records a decoded VMWI message-waiting flag on the Port's
// mailbox-adjacent state. The MDMF message-waiting field rides in the Name
// field as "Y"/"N" on the CPE wire formats this mirrors.
func applyMWIDecode(p *Port, msg CIDMessage) {
	p.Lock()
	defer p.Unlock()
	p.Flags.MWIMonitor = true
	if msg.Name == "Y" {
		p.Flags.MWIMonitorActive = true
	}
}
