package camera

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/use-go/onvif"

	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/logger"
)

// Prober checks whether a host:port pair is an ONVIF camera and, if so,
// extracts its stream URIs and device information.
type Prober struct {
	connectTimeout time.Duration
	probeTimeout   time.Duration
	logger         *logger.Logger
}

// NewProber creates a prober. connectTimeout bounds the TCP reachability
// gate, probeTimeout each SOAP request.
func NewProber(connectTimeout, probeTimeout time.Duration, log *logger.Logger) *Prober {
	return &Prober{
		connectTimeout: connectTimeout,
		probeTimeout:   probeTimeout,
		logger:         log,
	}
}

// Probe returns the camera record for host:port, or false when the pair
// is unreachable, rejects the credentials or exposes no usable stream.
func (p *Prober) Probe(host string, port int, creds config.Credentials) (*Camera, bool) {
	if !ProbePort(host, port, p.connectTimeout) {
		return nil, false
	}

	dev := &onvif.Camera{
		Address: fmt.Sprintf("http://%s:%d/onvif/device_service", host, port),
	}
	client := onvif.NewClientWithTimeout(creds.Username, creds.Password, p.probeTimeout)

	if err := client.GetDeviceInformation(dev); err != nil {
		p.logger.Debug("Device information request failed", "host", host, "port", port, "error", err)
		return nil, false
	}
	// The client swallows SOAP faults; a rejected login leaves every
	// device field empty.
	if dev.Manufacturer == "" && dev.DeviceModel == "" && dev.SerialNumber == "" {
		p.logger.Debug("Device returned no information, skipping", "host", host, "port", port)
		return nil, false
	}

	profiles, err := client.GetStreamProfiles(dev)
	if err != nil || len(profiles) == 0 {
		p.logger.Debug("No media profiles", "host", host, "port", port, "error", err)
		return nil, false
	}

	mainURI := p.streamURI(client, dev, pickMainProfile(profiles))
	if mainURI == "" {
		p.logger.Debug("No main stream URI", "host", host, "port", port)
		return nil, false
	}
	mainURI = injectUserinfo(mainURI, creds.Username, creds.Password)

	subURI := p.streamURI(client, dev, pickSubProfile(profiles))
	if subURI == "" {
		subURI = mainURI
	} else {
		subURI = injectUserinfo(subURI, creds.Username, creds.Password)
	}

	return &Camera{
		Host:          host,
		Port:          port,
		Name:          DisplayName(dev.DeviceModel, host),
		MainStreamURI: mainURI,
		SubStreamURI:  subURI,
		DeviceInfo: DeviceInfo{
			Manufacturer: dev.Manufacturer,
			Model:        dev.DeviceModel,
			Firmware:     dev.FirmwareVersion,
			Serial:       dev.SerialNumber,
		},
	}, true
}

// streamURI returns the profile's URI, retrying with a direct GetStreamUri
// request when the profile listing carried none.
func (p *Prober) streamURI(client *onvif.Client, dev *onvif.Camera, profile onvif.StreamConfig) string {
	if profile.StreamURI != "" {
		return profile.StreamURI
	}
	uri, err := client.GetStreamUri(dev, profile.ProfileToken)
	if err != nil {
		return ""
	}
	return uri
}

// pixelCount parses a "WxH" resolution string. Unparseable or degenerate
// resolutions yield 0.
func pixelCount(resolution string) int {
	parts := strings.SplitN(resolution, "x", 2)
	if len(parts) != 2 {
		return 0
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil || w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// pickMainProfile selects the profile with the highest pixel count,
// falling back to the first profile when none reports a resolution.
func pickMainProfile(profiles []onvif.StreamConfig) onvif.StreamConfig {
	best, bestPixels := -1, 0
	for i, pr := range profiles {
		if px := pixelCount(pr.Resolution); px > bestPixels {
			best, bestPixels = i, px
		}
	}
	if best == -1 {
		return profiles[0]
	}
	return profiles[best]
}

// pickSubProfile selects the profile with the lowest pixel count. When no
// profile reports a resolution it falls back to the last profile if more
// than one exists, else the only one.
func pickSubProfile(profiles []onvif.StreamConfig) onvif.StreamConfig {
	best, bestPixels := -1, 0
	for i, pr := range profiles {
		px := pixelCount(pr.Resolution)
		if px == 0 {
			continue
		}
		if best == -1 || px < bestPixels {
			best, bestPixels = i, px
		}
	}
	if best == -1 {
		return profiles[len(profiles)-1]
	}
	return profiles[best]
}

// injectUserinfo splices username:password between scheme and host when
// the URI carries no userinfo, preserving port, path and query.
func injectUserinfo(rawURI, username, password string) string {
	if username == "" {
		return rawURI
	}
	u, err := url.Parse(rawURI)
	if err != nil || u.User != nil {
		return rawURI
	}
	u.User = url.UserPassword(username, password)
	return u.String()
}
