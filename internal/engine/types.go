// Package engine implements the channel, signaling, and media core of a
// TDM telephony line driver: the per-line Port, its sub-channel model, the
// analog signaling engine, digit collection, the PRI and SS7 D-channel
// controllers, the conference manager, and the background monitor.
package engine

import "fmt"

// SigVariant tags the signaling protocol a Port speaks. See spec §6.2.
type SigVariant int

const (
	SigUnknown SigVariant = iota
	SigFXSLoopstart
	SigFXSGroundstart
	SigFXSKewlstart
	SigFXOLoopstart
	SigFXOGroundstart
	SigFXOKewlstart
	SigEM
	SigEME1
	SigEMWink
	SigFeatD
	SigFeatDMF
	SigFeatDMFTandemAccess
	SigFeatB
	SigE911
	SigFGCCama
	SigFGCCamaMF
	SigSF
	SigSFWink
	SigSFFeatD
	SigSFFeatDMF
	SigSFFeatB
	SigPRI
	SigBRI
	SigBRIPointToMultipoint
	SigSS7
	SigGR303FXOKS
	SigGR303FXSKS
	SigPseudo
)

func (s SigVariant) String() string {
	switch s {
	case SigFXSLoopstart:
		return "fxs_ls"
	case SigFXSGroundstart:
		return "fxs_gs"
	case SigFXSKewlstart:
		return "fxs_ks"
	case SigFXOLoopstart:
		return "fxo_ls"
	case SigFXOGroundstart:
		return "fxo_gs"
	case SigFXOKewlstart:
		return "fxo_ks"
	case SigEM:
		return "em"
	case SigEME1:
		return "em_e1"
	case SigEMWink:
		return "em_wink"
	case SigFeatD:
		return "featd"
	case SigFeatDMF:
		return "featdmf"
	case SigFeatDMFTandemAccess:
		return "featdmf_ta"
	case SigFeatB:
		return "featb"
	case SigE911:
		return "e911"
	case SigFGCCama:
		return "fgccama"
	case SigFGCCamaMF:
		return "fgccamamf"
	case SigSF:
		return "sf"
	case SigSFWink:
		return "sf_wink"
	case SigSFFeatD:
		return "sf_featd"
	case SigSFFeatDMF:
		return "sf_featdmf"
	case SigSFFeatB:
		return "sf_featb"
	case SigPRI:
		return "pri"
	case SigBRI:
		return "bri"
	case SigBRIPointToMultipoint:
		return "bri_ptmp"
	case SigSS7:
		return "ss7"
	case SigGR303FXOKS:
		return "gr303_fxoks"
	case SigGR303FXSKS:
		return "gr303_fxsks"
	case SigPseudo:
		return "pseudo"
	default:
		return "unknown"
	}
}

// IsFXS reports whether the variant is one of the three FXS flavors.
func (s SigVariant) IsFXS() bool {
	switch s {
	case SigFXSLoopstart, SigFXSGroundstart, SigFXSKewlstart, SigGR303FXSKS:
		return true
	default:
		return false
	}
}

// IsFXO reports whether the variant is one of the three FXO flavors.
func (s SigVariant) IsFXO() bool {
	switch s {
	case SigFXOLoopstart, SigFXOGroundstart, SigFXOKewlstart, SigGR303FXOKS:
		return true
	default:
		return false
	}
}

// IsDigital reports whether the variant is carried over a D-channel rather
// than per-line analog hook state.
func (s SigVariant) IsDigital() bool {
	switch s {
	case SigPRI, SigBRI, SigBRIPointToMultipoint, SigSS7:
		return true
	default:
		return false
	}
}

// Law is the companding law a channel encodes samples with.
type Law int

const (
	LawMu Law = iota
	LawA
)

func (l Law) String() string {
	if l == LawA {
		return "alaw"
	}
	return "ulaw"
}

// State is a Port's call-progress state machine position.
type State int

const (
	StateDown State = iota
	StatePreRing
	StateRing
	StateRinging
	StateDialing
	StateDialingOffhook
	StateUp
	StateBusy
	StateReserved
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StatePreRing:
		return "prering"
	case StateRing:
		return "ring"
	case StateRinging:
		return "ringing"
	case StateDialing:
		return "dialing"
	case StateDialingOffhook:
		return "dialing_offhook"
	case StateUp:
		return "up"
	case StateBusy:
		return "busy"
	case StateReserved:
		return "reserved"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SubIndex names one of a Port's three sub-channels.
type SubIndex int

const (
	SubReal SubIndex = iota
	SubCallWait
	SubThreeWay
	subCount
)

func (i SubIndex) String() string {
	switch i {
	case SubReal:
		return "real"
	case SubCallWait:
		return "callwait"
	case SubThreeWay:
		return "threeway"
	default:
		return "invalid"
	}
}

// ConfMode is the hardware conference mode a sub-channel's cached descriptor
// records, per spec §3 Conference descriptor.
type ConfMode int

const (
	ConfNone ConfMode = iota
	ConfRealPseudoMixer
	ConfTalkerListener
	ConfDigitalMonitor
)

// PolarityState tracks the last observed line-polarity reading.
type PolarityState int

const (
	PolarityIdle PolarityState = iota
	PolarityReverse
)

// CIDSignaling selects the Caller-ID spill/decode method, spec §6.3 cidsignalling.
type CIDSignaling int

const (
	CIDSignalingBell CIDSignaling = iota
	CIDSignalingV23
	CIDSignalingV23JP
	CIDSignalingDTMF
	CIDSignalingSMDI
)

// CIDStart selects when a Port begins listening for Caller-ID, spec §6.3 cidstart.
type CIDStart int

const (
	CIDStartRing CIDStart = iota
	CIDStartPolarity
	CIDStartPolarityIn
)

// ADSIState is the display-session state machine gated by the Port's adsi
// flag.
type ADSIState int

const (
	ADSIIdle ADSIState = iota
	ADSILoadingSoftkeys
	ADSIConnected
	ADSIDisconnected
)
