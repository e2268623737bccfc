package engine

// Span device discovery.
//
// At startup, spans are discovered off udev rather than assumed from a
// static channel-number table, so a span card can be hot-plugged (or a
// software backend substituted) without editing the config file's
// channel: ranges by hand. Uses github.com/jochenvg/go-udev, the dep the
// rest of the pack draws on for device-node enumeration.

import (
	"fmt"
	"strconv"

	"github.com/jochenvg/go-udev"
)

// SpanDevice describes one enumerated /dev/tdmchan/channelN node.
type SpanDevice struct {
	Path    string
	Span    int
	Channel int
}

// DiscoverSpans enumerates every tdmchan character device node currently
// present, parsing its span/channel attributes from udev properties rather
// than the device path.
func DiscoverSpans() ([]SpanDevice, error) {
	u := udev.Udev{}
	enum := u.NewEnumerateFromSubsystems([]string{"tdmchan"})
	devices, err := enum.Devices()
	if err != nil {
		return nil, fmt.Errorf("spandiscover: enumerate: %w", err)
	}

	out := make([]SpanDevice, 0, len(devices))
	for _, dev := range devices {
		spanStr := dev.PropertyValue("TDMCHAN_SPAN")
		chanStr := dev.PropertyValue("TDMCHAN_CHANNEL")
		if spanStr == "" || chanStr == "" {
			continue
		}
		span, err := strconv.Atoi(spanStr)
		if err != nil {
			continue
		}
		channel, err := strconv.Atoi(chanStr)
		if err != nil {
			continue
		}
		out = append(out, SpanDevice{Path: dev.Devnode(), Span: span, Channel: channel})
	}
	return out, nil
}

// WatchSpans streams udev add/remove events for the tdmchan subsystem onto
// a channel, so a running daemon can react to a span card appearing or
// disappearing instead of only discovering spans at boot.
func WatchSpans(stop <-chan struct{}) (<-chan SpanDevice, <-chan SpanDevice, error) {
	u := udev.Udev{}
	monitor := u.NewMonitorFromNetlink("udev")
	if err := monitor.FilterAddMatchSubsystem("tdmchan"); err != nil {
		return nil, nil, fmt.Errorf("spandiscover: filter: %w", err)
	}

	added := make(chan SpanDevice, 8)
	removed := make(chan SpanDevice, 8)

	deviceCh, errCh, err := monitor.DeviceChan(make(chan struct{}))
	if err != nil {
		return nil, nil, fmt.Errorf("spandiscover: monitor: %w", err)
	}

	go func() {
		defer close(added)
		defer close(removed)
		for {
			select {
			case <-stop:
				return
			case err := <-errCh:
				_ = err
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}
				spanStr := dev.PropertyValue("TDMCHAN_SPAN")
				chanStr := dev.PropertyValue("TDMCHAN_CHANNEL")
				span, _ := strconv.Atoi(spanStr)
				channel, _ := strconv.Atoi(chanStr)
				sd := SpanDevice{Path: dev.Devnode(), Span: span, Channel: channel}
				switch dev.Action() {
				case "add":
					added <- sd
				case "remove":
					removed <- sd
				}
			}
		}
	}()

	return added, removed, nil
}
