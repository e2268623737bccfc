// Command tdmchand is the TDM channel driver daemon: it loads a span
// configuration, opens hardware (or software) devices for every configured
// channel, and runs the monitor and signaling controllers until terminated.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/tdmchan/tdmchan/internal/engine"
)

func main() {
	configFile := pflag.StringP("config-file", "c", "tdmchan.yaml", "Configuration file name.")
	logDir := pflag.StringP("log-dir", "l", "", "Directory for daily-rotated log files. Leave empty to log to stderr.")
	logPattern := pflag.StringP("log-pattern", "L", "%Y%m%d.log", "strftime pattern for daily log file names.")
	debugStr := pflag.StringP("debug", "d", "", "Debug level name (debug, info, warn, error).")
	mgmtPort := pflag.IntP("mgmt-port", "m", 0, "TCP port for the operator/management surface. 0 disables it.")
	announce := pflag.BoolP("announce", "a", false, "Announce the management surface over mDNS/DNS-SD.")
	soft := pflag.BoolP("software", "s", false, "Use software (sound-card) devices instead of TDM hardware.")
	help := pflag.BoolP("help", "h", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tdmchand - TDM telephony channel driver daemon.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: tdmchand [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	if *logDir != "" {
		rotator, err := engine.NewDailyLogRotator(*logDir, *logPattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "tdmchand: %v\n", err)
			os.Exit(1)
		}
		engine.SetLogOutput(rotator)
	}
	if *debugStr != "" {
		if lvl, err := log.ParseLevel(*debugStr); err == nil {
			engine.SetLogLevel(lvl)
		}
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true}).With("component", "main")

	cfg, err := engine.LoadConfig(*configFile)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry := engine.NewRegistry()
	cm := engine.NewConferenceManager()
	three := engine.NewThreeWayController(cm)

	if err := provisionChannels(registry, cfg, *soft, three); err != nil {
		logger.Fatalf("provision channels: %v", err)
	}

	analog := engine.NewAnalogEventHandler(cm)
	digit := engine.NewDigitCollector(nil, nil, nil, nil, nil)
	monitor := engine.NewMonitor(registry, analog, digit, nil, cm)

	go func() {
		if err := monitor.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("monitor stopped: %v", err)
		}
	}()

	if *mgmtPort > 0 {
		op := engine.NewOperatorInterface(registry, cm, three)
		go serveOperator(ctx, logger, op, *mgmtPort)

		if *announce {
			if err := engine.AnnounceManagementSurface(ctx, "", *mgmtPort); err != nil {
				logger.Errorf("dns-sd announce: %v", err)
			}
		}
	}

	logger.Infof("tdmchand running with %d channel(s)", len(registry.All()))
	<-ctx.Done()
	logger.Infof("shutting down")
}

// provisionChannels expands cfg's channel ranges into Port entries in
// registry, opening a software device per port when soft is set and
// deferring to real hardware otherwise. Every Port is bound to three so a
// hardware hook-flash reaches the three-way/call-waiting state machine, and
// carries over the channel's Caller-ID and distinctive-ring provisioning.
func provisionChannels(registry *engine.Registry, cfg *engine.Config, soft bool, three *engine.ThreeWayController) error {
	for _, ch := range cfg.Channels {
		sig := engine.ParseSigVariant(ch.Signalling)
		for _, r := range ch.Ranges {
			if r.Pseudo {
				continue
			}
			for channel := r.First; channel <= r.Last; channel++ {
				var dev engine.Device
				var err error
				if soft {
					dev, err = engine.OpenSoftDevice(engine.LawMu)
				} else {
					dev, err = engine.OpenIoctlDevice(fmt.Sprintf("/dev/tdmchan/channel%d", channel))
				}
				if err != nil {
					return fmt.Errorf("channel %d: %w", channel, err)
				}
				p := engine.NewPort(channel, 0, engine.LawMu, sig, dev)
				p.SetThreeWayController(three)
				p.Context = ch.Context
				p.Mailbox = ch.Mailbox
				p.SMDIPort = ch.SMDIPort
				p.Cadences = ch.Cadences
				p.CIDRxGain = ch.CIDRxGain
				p.Flags.ThreeWayCalling = ch.ThreeWayCalling
				p.Flags.CallWaiting = ch.CallWaiting
				p.Flags.UseCallerID = ch.UseCallerID
				if ch.UseCallerID {
					p.CIDSignaling = engine.ParseCIDSignaling(ch.CIDSignalling)
					p.CIDStartMode = engine.ParseCIDStart(ch.CIDStart)
				}
				registry.Add(p)
			}
		}
	}
	return nil
}
