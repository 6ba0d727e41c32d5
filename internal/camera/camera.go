package camera

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// ErrCameraNotFound is returned for registry lookups of unknown indices.
// The message is part of the HTTP API contract.
var ErrCameraNotFound = errors.New("Kamera nicht gefunden")

// ErrNoStreamURI is returned when a camera record carries no usable
// stream URI. The message is part of the HTTP API contract.
var ErrNoStreamURI = errors.New("Keine Stream-URL verfügbar")

// DeviceInfo holds display-only ONVIF device information
type DeviceInfo struct {
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	Firmware     string `json:"firmware,omitempty"`
	Serial       string `json:"serial,omitempty"`
}

// Camera is one discovered ONVIF camera. Records are immutable after
// discovery; a rescan replaces them wholesale.
type Camera struct {
	Host          string     `json:"host"`
	Port          int        `json:"port"`
	Name          string     `json:"name"`
	MainStreamURI string     `json:"main_stream_uri"`
	SubStreamURI  string     `json:"sub_stream_uri"`
	DeviceInfo    DeviceInfo `json:"device_info"`
}

// Address returns the host:port pair identifying the camera
func (c Camera) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DisplayName returns the camera name, falling back to "Kamera <host>"
func DisplayName(model, host string) string {
	if model != "" {
		return model
	}
	return fmt.Sprintf("Kamera %s", host)
}
