package soap

import (
	"context"
	"time"
)

// Deadlines for outbound device calls. Browse pages are slower than control
// actions on large libraries.
const (
	ControlTimeout = 5 * time.Second
	BrowseTimeout  = 10 * time.Second
)

// ControlContext returns a context with the control-action deadline.
func ControlContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), ControlTimeout)
}

// BrowseContext returns a context with the browse deadline.
func BrowseContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), BrowseTimeout)
}

// Service identifies a UPnP service on a player.
type Service string

const (
	ServiceAVTransport           Service = "AVTransport"
	ServiceRenderingControl      Service = "RenderingControl"
	ServiceGroupRenderingControl Service = "GroupRenderingControl"
	ServiceContentDirectory      Service = "ContentDirectory"
	ServiceZoneGroupTopology     Service = "ZoneGroupTopology"
	ServiceDeviceProperties      Service = "DeviceProperties"
	ServiceMusicServices         Service = "MusicServices"
)

var serviceTypes = map[Service]string{
	ServiceAVTransport:           "urn:schemas-upnp-org:service:AVTransport:1",
	ServiceRenderingControl:      "urn:schemas-upnp-org:service:RenderingControl:1",
	ServiceGroupRenderingControl: "urn:schemas-upnp-org:service:GroupRenderingControl:1",
	ServiceContentDirectory:      "urn:schemas-upnp-org:service:ContentDirectory:1",
	ServiceZoneGroupTopology:     "urn:schemas-upnp-org:service:ZoneGroupTopology:1",
	ServiceDeviceProperties:      "urn:schemas-upnp-org:service:DeviceProperties:1",
	ServiceMusicServices:         "urn:schemas-upnp-org:service:MusicServices:1",
}

var controlPaths = map[Service]string{
	ServiceAVTransport:           "/MediaRenderer/AVTransport/Control",
	ServiceRenderingControl:      "/MediaRenderer/RenderingControl/Control",
	ServiceGroupRenderingControl: "/MediaRenderer/GroupRenderingControl/Control",
	ServiceContentDirectory:      "/MediaServer/ContentDirectory/Control",
	ServiceZoneGroupTopology:     "/ZoneGroupTopology/Control",
	ServiceDeviceProperties:      "/DeviceProperties/Control",
	ServiceMusicServices:         "/MusicServices/Control",
}

// EventPaths lists the GENA subscription paths managed per player.
var EventPaths = map[Service]string{
	ServiceAVTransport:       "/MediaRenderer/AVTransport/Event",
	ServiceRenderingControl:  "/MediaRenderer/RenderingControl/Event",
	ServiceZoneGroupTopology: "/ZoneGroupTopology/Event",
	ServiceContentDirectory:  "/MediaServer/ContentDirectory/Event",
}

// ServiceType returns the urn service type for a service.
func ServiceType(s Service) string {
	return serviceTypes[s]
}

// ControlPath returns the SOAP control endpoint path for a service.
func ControlPath(s Service) string {
	return controlPaths[s]
}

// Arg is a single SOAP action argument. Arguments are marshalled in slice
// order because some firmware versions reject reordered elements.
type Arg struct {
	Name  string
	Value string
}

// Args is a convenience constructor preserving pair order.
func Args(pairs ...string) []Arg {
	out := make([]Arg, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Arg{Name: pairs[i], Value: pairs[i+1]})
	}
	return out
}

// Fields holds the flattened child elements of a SOAP action response.
type Fields map[string]string
