package engine

// Configuration surface, spec §6.3.
//
// An Asterisk-style ini file with a hand-rolled line-oriented parser is one
// option, but the structured, deeply nested shape of §6.3 (trunk groups,
// span maps, per-span PRI timers, per-linkset SS7 state) maps far more
// naturally onto YAML than onto flat key=value pairs, so this file loads
// the whole config surface with gopkg.in/yaml.v3 instead of inventing a
// bespoke grammar.

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CadenceSlot is one (on,off) pair of a ring cadence template. A negative
// on-duration inverts the first cadence slot; a negative value at an odd
// index marks the Caller-ID spill position. -1 alone is the "don't care"
// wildcard used when matching.
type CadenceSlot struct {
	OnMS  int `yaml:"on_ms"`
	OffMS int `yaml:"off_ms"`
}

// CadenceTemplate is one of up to three configured distinctive-ring
// templates (dring1..3 / dring{N}context / dring{N}range).
type CadenceTemplate struct {
	Context string        `yaml:"context"`
	Slots   []CadenceSlot `yaml:"slots"`
	RangeMS int           `yaml:"range_ms"` // per-slot ± tolerance
}

// ChannelRange is one member of a channels: range list, e.g. "1-4" or the
// sentinel "pseudo".
type ChannelRange struct {
	First  int  `yaml:"first"`
	Last   int  `yaml:"last"`
	Pseudo bool `yaml:"pseudo"`
	CRV    int  `yaml:"crv"` // 0 if this entry is a bearer, not a CRV
}

// TrunkGroup is one entry of the trunkgroups: section, processed before
// channels: per spec §6.3's ordering rule.
type TrunkGroup struct {
	Number int   `yaml:"number"`
	DChans []int `yaml:"dchans"`
}

// SpanMapEntry binds a physical span to a trunk group and logical span
// number, used by GR-303/CRV resolution.
type SpanMapEntry struct {
	Span         int `yaml:"span"`
	TrunkGroup   int `yaml:"trunk_group"`
	LogicalSpan  int `yaml:"logical_span"`
}

// PRITimers carries the subset of pritimer: values this module inspects
// directly (T309 governs whether a D-channel-down releases outstanding
// calls, per §4.9 DCHAN_DOWN).
type PRITimers struct {
	T309MS int `yaml:"t309_ms"`
}

// PRISpanConfig is the per-span PRI section.
type PRISpanConfig struct {
	Span                 int       `yaml:"span"`
	TrunkGroup           int       `yaml:"trunk_group"`
	SwitchType           string    `yaml:"switchtype"`
	NodeSide             string    `yaml:"node"` // cpe | network
	Dialplan             string    `yaml:"pridialplan"`
	LocalDialplan        string    `yaml:"prilocaldialplan"`
	OverlapDial          string    `yaml:"overlapdial"` // no|incoming|outgoing|both
	Indication           string    `yaml:"priindication"`
	Exclusive            bool      `yaml:"priexclusive"`
	IdleExt              string    `yaml:"idleext"`
	IdleContext          string    `yaml:"idlecontext"`
	IdleDial             string    `yaml:"idledial"`
	MinUnused            int       `yaml:"minunused"`
	MinIdle              int       `yaml:"minidle"`
	ResetIntervalSeconds int       `yaml:"resetinterval"` // 0 == never
	Timers               PRITimers `yaml:"pritimer"`
	NSF                  string    `yaml:"nsf"`
	FacilityEnable       bool      `yaml:"facilityenable"`
}

// SS7LinksetConfig is the per-linkset ss7: section.
type SS7LinksetConfig struct {
	Linkset          string `yaml:"linkset"`
	Type             string `yaml:"ss7type"` // itu | ansi
	PointCode        int    `yaml:"pointcode"`
	AdjPointCode     int    `yaml:"adjpointcode"`
	DefaultDPC       int    `yaml:"defaultdpc"`
	CICBeginsWith    int    `yaml:"cicbeginswith"`
	NetworkIndicator string `yaml:"networkindicator"`
	CalledNAI        string `yaml:"ss7_called_nai"`
	CallingNAI       string `yaml:"ss7_calling_nai"`
	CotCheckRequired bool   `yaml:"cot_check_required"`
}

// ChannelConfig is one channels: section body.
type ChannelConfig struct {
	Ranges              []ChannelRange `yaml:"channel"`
	Signalling          string         `yaml:"signalling"`
	OutSignalling       string         `yaml:"outsignalling"`
	Context             string         `yaml:"context"`
	CallerID            string         `yaml:"callerid"`
	UseCallerID         bool           `yaml:"usecallerid"`
	CIDSignalling       string         `yaml:"cidsignalling"`
	CIDStart            string         `yaml:"cidstart"`
	ThreeWayCalling     bool           `yaml:"threewaycalling"`
	CallWaiting         bool           `yaml:"callwaiting"`
	CallWaitingCallerID bool           `yaml:"callwaitingcallerid"`
	Transfer            bool           `yaml:"transfer"`
	CanPark             bool           `yaml:"canpark"`
	CanCallForward      bool           `yaml:"cancallforward"`
	EchoCancel          int            `yaml:"echocancel"` // taps, 0 disables
	EchoCancelParams    []string       `yaml:"echocancel_params"`
	EchoTrainingMS      int            `yaml:"echotraining"`
	BusyDetect          bool           `yaml:"busydetect"`
	BusyCount           int            `yaml:"busycount"`
	BusyPattern         [2]int         `yaml:"busypattern"`
	CallProgress        bool           `yaml:"callprogress"`
	RelaxDTMF           bool           `yaml:"relaxdtmf"`
	Mailbox             string         `yaml:"mailbox"`
	UseSMDI             bool           `yaml:"usesmdi"`
	SMDIPort            string         `yaml:"smdiport"`
	Cadences            []CadenceTemplate `yaml:"cadences"`
	Group               int            `yaml:"group"`
	CallGroup           int            `yaml:"callgroup"`
	PickupGroup         int            `yaml:"pickupgroup"`
	MOHInterpret        string         `yaml:"mohinterpret"`
	MOHSuggest          string         `yaml:"mohsuggest"`
	RxGain              float64        `yaml:"rxgain"`
	TxGain              float64        `yaml:"txgain"`
	CIDRxGain           float64        `yaml:"cid_rxgain"`
	StripMSD            int            `yaml:"stripmsd"`
	ToneZone            string         `yaml:"tonezone"`
	JitterBuffers       int            `yaml:"jitterbuffers"`
	AMAFlags            string         `yaml:"amaflags"`
	PolarityOnAnswerDelayMS int        `yaml:"polarityonanswerdelay"`
	AnswerOnPolaritySwitch bool        `yaml:"answeronpolarityswitch"`
	HangupOnPolaritySwitch bool        `yaml:"hanguponpolarityswitch"`
	SendCallerIDAfter   int            `yaml:"sendcalleridafter"`
	InternationalPrefix string         `yaml:"internationalprefix"`
	NationalPrefix      string         `yaml:"nationalprefix"`
	LocalPrefix         string         `yaml:"localprefix"`
	PrivatePrefix       string         `yaml:"privateprefix"`
	UnknownPrefix       string         `yaml:"unknownprefix"`
	RingTimeoutMS       int            `yaml:"ringtimeout"`
	MWIMonitor          bool           `yaml:"mwimonitor"`
	MWIMonitorNotify    string         `yaml:"mwimonitornotify"`
	MWILevel            int            `yaml:"mwilevel"`
	TrunkGroupRef       int            `yaml:"trunkgroup"`
	PRI                 *PRISpanConfig `yaml:"pri,omitempty"`
	SS7                 *SS7LinksetConfig `yaml:"ss7,omitempty"`
}

// Config is the top-level configuration document.
type Config struct {
	TrunkGroups []TrunkGroup     `yaml:"trunkgroups"`
	SpanMap     []SpanMapEntry   `yaml:"spanmap"`
	Channels    []ChannelConfig  `yaml:"channels"`
}

// LoadConfig reads and validates a YAML config document from path.
// spec §6.3 requires trunkgroups to be fully processed before channels may
// reference one via crv; that ordering is enforced here rather than relying
// on document order, since YAML unmarshals the whole document at once.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates an in-memory config document, split out
// from LoadConfig so tests (and the round-trip property in config_test.go)
// don't need a filesystem.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Emit serializes the config back to YAML, used by the config round-trip
// property in config_test.go.
func (c *Config) Emit() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate enforces the config-fatal rules of spec §7: a crv reference to
// an undefined trunk group, or signalling/outsignalling combinations that
// cannot coexist (a CRV channel range declared against a non-digital
// variant).
func (c *Config) Validate() error {
	groups := make(map[int]bool, len(c.TrunkGroups))
	for _, g := range c.TrunkGroups {
		groups[g.Number] = true
	}

	for i, ch := range c.Channels {
		variant := ParseSigVariant(ch.Signalling)
		for _, r := range ch.Ranges {
			if r.CRV != 0 {
				if ch.TrunkGroupRef == 0 {
					return NewConfigError("channels", fmt.Sprintf("[%d]", i),
						"crv channel requires trunkgroup")
				}
				if !groups[ch.TrunkGroupRef] {
					return NewConfigError("channels", fmt.Sprintf("[%d]", i),
						fmt.Sprintf("crv references undefined trunk group %d", ch.TrunkGroupRef))
				}
				if !variant.IsDigital() && variant != SigGR303FXOKS && variant != SigGR303FXSKS {
					return NewConfigError("channels", fmt.Sprintf("[%d]", i),
						"crv channel requires a digital or GR-303 signalling variant")
				}
			}
			if !r.Pseudo && r.First > r.Last {
				return NewConfigError("channels", fmt.Sprintf("[%d]", i),
					fmt.Sprintf("invalid channel range %d-%d", r.First, r.Last))
			}
		}
		if variant == SigUnknown {
			return NewConfigError("channels", fmt.Sprintf("[%d].signalling", i),
				fmt.Sprintf("unrecognized signalling %q", ch.Signalling))
		}
	}
	return nil
}

// ParseSigVariant maps a config file's signalling string onto a SigVariant,
// returning SigUnknown for anything unrecognized.
func ParseSigVariant(s string) SigVariant {
	switch s {
	case "fxs_ls":
		return SigFXSLoopstart
	case "fxs_gs":
		return SigFXSGroundstart
	case "fxs_ks":
		return SigFXSKewlstart
	case "fxo_ls":
		return SigFXOLoopstart
	case "fxo_gs":
		return SigFXOGroundstart
	case "fxo_ks":
		return SigFXOKewlstart
	case "em":
		return SigEM
	case "em_e1":
		return SigEME1
	case "em_wink":
		return SigEMWink
	case "featd":
		return SigFeatD
	case "featdmf":
		return SigFeatDMF
	case "featdmf_ta":
		return SigFeatDMFTandemAccess
	case "featb":
		return SigFeatB
	case "e911":
		return SigE911
	case "fgccama":
		return SigFGCCama
	case "fgccamamf":
		return SigFGCCamaMF
	case "sf":
		return SigSF
	case "sf_wink":
		return SigSFWink
	case "sf_featd":
		return SigSFFeatD
	case "sf_featdmf":
		return SigSFFeatDMF
	case "sf_featb":
		return SigSFFeatB
	case "pri":
		return SigPRI
	case "bri":
		return SigBRI
	case "bri_ptmp":
		return SigBRIPointToMultipoint
	case "ss7":
		return SigSS7
	case "gr303_fxoks":
		return SigGR303FXOKS
	case "gr303_fxsks":
		return SigGR303FXSKS
	case "pseudo":
		return SigPseudo
	default:
		return SigUnknown
	}
}

// ParseCIDSignaling maps a config file's cidsignalling string onto a
// CIDSignaling, defaulting to CIDSignalingBell for anything unrecognized
// (matching the historical behavior of leaving cidsignalling unset).
func ParseCIDSignaling(s string) CIDSignaling {
	switch s {
	case "v23":
		return CIDSignalingV23
	case "v23_jp":
		return CIDSignalingV23JP
	case "dtmf":
		return CIDSignalingDTMF
	case "smdi":
		return CIDSignalingSMDI
	default:
		return CIDSignalingBell
	}
}

// ParseCIDStart maps a config file's cidstart string onto a CIDStart,
// defaulting to CIDStartRing.
func ParseCIDStart(s string) CIDStart {
	switch s {
	case "polarity":
		return CIDStartPolarity
	case "polarity_in":
		return CIDStartPolarityIn
	default:
		return CIDStartRing
	}
}
