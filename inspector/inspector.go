package inspector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmlink/internal/device"
	goble "github.com/srg/cgmlink/internal/device/go-ble"
	"github.com/srg/cgmlink/internal/registry"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a BLE device profile
type InspectOptions struct {
	ConnectTimeout time.Duration
}

// InspectCallback processes a connected device and produces output of type R
type InspectCallback[R any] func(device.Device) (R, error)

// DeviceFactory creates the device for an address. Tests replace it.
var DeviceFactory = func(address string, logger *logrus.Logger) device.Device {
	return goble.NewBLEDevice(address, logger)
}

// InspectDevice connects to a device, runs callback with it, and disconnects.
func InspectDevice[R any](ctx context.Context, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{ConnectTimeout: goble.DefaultConnectTimeout}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")

	dev := DeviceFactory(address, logger)
	if err := dev.Connect(ctx, &device.ConnectOptions{ConnectTimeout: opts.ConnectTimeout}); err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Connected")

	defer func(dev device.Device) {
		if err := dev.Disconnect(); err != nil {
			logger.WithError(err).Error("failed to disconnect device")
		}
	}(dev)

	progressCallback("Processing results")
	return callback(dev)
}

// RoleReport describes one protocol role on the inspected sensor.
type RoleReport struct {
	Role       string   `json:"role"`
	UUID       string   `json:"uuid"`
	Found      bool     `json:"found"`
	Properties []string `json:"properties,omitempty"`
}

// Report is the result of inspecting a sensor's CGM service.
type Report struct {
	Address      string       `json:"address"`
	ServiceFound bool         `json:"service_found"`
	Roles        []RoleReport `json:"roles"`
	Missing      []string     `json:"missing,omitempty"`
	// Unknown lists characteristics of the CGM service that map to no role.
	Unknown []string `json:"unknown,omitempty"`
}

// Complete reports whether every role was discovered.
func (r *Report) Complete() bool {
	return r.ServiceFound && len(r.Missing) == 0
}

// BuildReport maps the discovered profile of conn onto the protocol roles.
func BuildReport(address string, conn device.Connection) *Report {
	rep := &Report{Address: address}
	reg := registry.New()

	if _, err := reg.Populate(conn); err == nil {
		rep.ServiceFound = true
	}

	for _, role := range registry.Roles() {
		full, _ := role.FullUUID()
		rr := RoleReport{Role: role.String(), UUID: full.String()}
		if e, err := reg.Lookup(role); err == nil {
			rr.Found = true
			rr.Properties = propertyNames(e.Endpoint.GetProperties())
		} else {
			rep.Missing = append(rep.Missing, role.String())
		}
		rep.Roles = append(rep.Roles, rr)
	}

	if svc, err := conn.GetService(registry.ServiceUUID); err == nil {
		for _, c := range svc.GetCharacteristics() {
			if _, ok := registry.RoleForUUID(c.UUID()); !ok {
				rep.Unknown = append(rep.Unknown, c.UUID())
			}
		}
		sort.Strings(rep.Unknown)
	}
	return rep
}

// Inspect connects to address and builds its Report.
func Inspect(ctx context.Context, address string, opts *InspectOptions, logger *logrus.Logger, progress ProgressCallback) (*Report, error) {
	return InspectDevice(ctx, address, opts, logger, progress, func(dev device.Device) (*Report, error) {
		conn := dev.GetConnection()
		if conn == nil {
			return nil, device.ErrNotConnected
		}
		return BuildReport(dev.Address(), conn), nil
	})
}

func propertyNames(p device.Properties) []string {
	if p == nil {
		return nil
	}
	var names []string
	for _, prop := range []device.Property{p.Read(), p.Write(), p.WriteWithoutResponse(), p.Notify(), p.Indicate()} {
		if prop != nil {
			names = append(names, strings.ToLower(prop.KnownName()))
		}
	}
	return names
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText writes a human readable table.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Sensor %s\n", r.Address)
	if !r.ServiceFound {
		fmt.Fprintf(&b, "CGM service %s not found\n", registry.ServiceUUID)
	}
	for _, rr := range r.Roles {
		status := "missing"
		if rr.Found {
			status = strings.Join(rr.Properties, ",")
		}
		fmt.Fprintf(&b, "  %-17s %s  %s\n", rr.Role, rr.UUID, status)
	}
	for _, u := range r.Unknown {
		fmt.Fprintf(&b, "  %-17s %s\n", "(unknown)", u)
	}
	if len(r.Missing) > 0 {
		fmt.Fprintf(&b, "Missing roles: %s\n", strings.Join(r.Missing, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}
