package engine

// SMDI mailbox serial transport.
//
// SMDI itself stays an external collaborator: the voicemail system's own
// MD/MWI message semantics are out of scope. What this module owns is the
// serial line underneath it, opened and framed with github.com/pkg/term
// rather than by a hand-rolled termios wrapper.

import (
	"bufio"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/term"
)

const (
	smdiBaud       = 9600
	smdiMsgPrefix  = "MWI"
	smdiMDPrefix   = "MD"
	smdiFieldCount = 4
)

// SMDIPort reads SMDI status messages off a serial line and tracks the
// mailbox-to-state mapping they describe, serving as a MWIMailboxChecker
// for Monitor so a real SMDI link can drive the §4.11/§2.10 MWI path
// instead of only the energy-detect fallback.
type SMDIPort struct {
	fd *term.Term

	mu    sync.Mutex
	state map[string]bool
}

// OpenSMDIPort opens devicename at the standard SMDI rate (9600 8N1) and
// starts the background reader that keeps mailbox state current.
func OpenSMDIPort(devicename string) (*SMDIPort, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("smdiserial: open %s: %w", devicename, err)
	}
	if err := fd.SetSpeed(smdiBaud); err != nil {
		_ = fd.Close()
		return nil, fmt.Errorf("smdiserial: set speed: %w", err)
	}

	s := &SMDIPort{fd: fd, state: make(map[string]bool)}
	go s.readLoop()
	return s, nil
}

// HasNewMessages implements MWIMailboxChecker against the most recently
// received SMDI status for mailbox. changed always reports false here: the
// serial reader updates state as messages arrive, so a caller polling
// HasNewMessages is only ever asking "what do we know right now", not
// discovering a transition itself.
func (s *SMDIPort) HasNewMessages(mailbox string) (hasNew, changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hasNew = s.state[mailbox]
	return hasNew, false, nil
}

// Close releases the underlying serial handle.
func (s *SMDIPort) Close() error {
	if s.fd == nil {
		return nil
	}
	return s.fd.Close()
}

func (s *SMDIPort) readLoop() {
	r := bufio.NewReader(s.fd)
	for {
		line, err := r.ReadString('\r')
		if err != nil {
			return
		}
		s.applyLine(strings.TrimRight(line, "\r\n"))
	}
}

// applyLine parses one SMDI MD (message desk) status line of the form
// "MD<MWI flag><mailbox>\r": the first character after "MD" is the flag
// ('Y' means messages waiting) and the rest, trimmed, is the mailbox whose
// state is recorded. Anything not recognisable as an MD line is ignored, in
// keeping with this tree's general tolerance for partial/garbled serial
// framing.
func (s *SMDIPort) applyLine(line string) {
	if !strings.HasPrefix(line, smdiMDPrefix) {
		return
	}
	body := strings.TrimPrefix(line, smdiMDPrefix)
	if len(body) < smdiFieldCount {
		return
	}

	mwiFlag := body[0]
	mailbox := strings.TrimSpace(body[1:])
	if mailbox == "" {
		return
	}

	s.mu.Lock()
	s.state[mailbox] = mwiFlag == 'Y'
	s.mu.Unlock()
}

// writeCommand sends a raw SMDI command string, used for the rare case of
// an outbound MWI acknowledgement.
func (s *SMDIPort) writeCommand(cmd string) error {
	n, err := s.fd.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("smdiserial: write: %w", err)
	}
	if n != len(cmd) {
		return fmt.Errorf("smdiserial: short write %d/%d", n, len(cmd))
	}
	return nil
}
