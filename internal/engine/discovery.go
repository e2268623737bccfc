package engine

// Management-surface discovery.
//
// Announces the §6.4 operator/management TCP surface over mDNS/DNS-SD so
// cmd/tdmctl can find a running tdmchand on the local network without a
// hardcoded host:port, adapted from the KISS-over-TCP dns_sd.go announcer
// onto github.com/brutella/dnssd's same pure-Go responder.

import (
	"context"
	"fmt"

	"github.com/brutella/dnssd"
)

// ManagementServiceType is the DNS-SD service type the operator surface
// registers under.
const ManagementServiceType = "_tdmchan-mgmt._tcp"

// AnnounceManagementSurface registers name (or a sensible default) as
// serving the operator/management interface on port, and runs the
// responder until ctx is cancelled. Errors constructing the service or
// responder are logged and swallowed; DNS-SD is a convenience, not a hard
// startup dependency.
func AnnounceManagementSurface(ctx context.Context, name string, port int) error {
	if name == "" {
		name = defaultManagementServiceName()
	}

	cfg := dnssd.Config{
		Name: name,
		Type: ManagementServiceType,
		Port: port,
	}

	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("discovery: create service: %w", err)
	}

	responder, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("discovery: create responder: %w", err)
	}

	if _, err := responder.Add(service); err != nil {
		return fmt.Errorf("discovery: add service: %w", err)
	}

	componentLogger("discovery").Infof("announcing management surface on port %d as %q", port, name)

	go func() {
		if err := responder.Respond(ctx); err != nil && ctx.Err() == nil {
			componentLogger("discovery").Errorf("responder stopped: %v", err)
		}
	}()
	return nil
}

func defaultManagementServiceName() string {
	return "tdmchand"
}
