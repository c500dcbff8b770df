// ABOUTME: mDNS advertisement of the listening room on the local network
// ABOUTME: Native clients browse for _syncjam._tcp instead of typing addresses
package discovery

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/hashicorp/mdns"
	"github.com/rs/zerolog"
)

const serviceType = "_syncjam._tcp"

// Advertiser announces the room server over mDNS.
type Advertiser struct {
	name   string
	port   int
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAdvertiser creates an advertiser for the given room name and port.
func NewAdvertiser(name string, port int, logger zerolog.Logger) *Advertiser {
	ctx, cancel := context.WithCancel(context.Background())
	return &Advertiser{
		name:   name,
		port:   port,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Advertise starts the mDNS responder. It runs until Stop.
func (a *Advertiser) Advertise() error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("local ips: %w", err)
	}

	host, _ := os.Hostname()
	service, err := mdns.NewMDNSService(
		a.name,
		serviceType,
		"",
		host+".",
		a.port,
		ips,
		[]string{"path=/ws"},
	)
	if err != nil {
		return fmt.Errorf("mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("mdns server: %w", err)
	}

	a.logger.Info().Str("service", serviceType).Int("port", a.port).Msg("mdns advertisement started")

	go func() {
		<-a.ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Stop shuts the responder down.
func (a *Advertiser) Stop() {
	a.cancel()
}

func localIPs() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ipnet.IP.To4() != nil {
			ips = append(ips, ipnet.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no usable network interface")
	}
	return ips, nil
}
