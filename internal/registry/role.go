package registry

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/cgmlink/internal/device"
)

// ServiceUUID is the CGM service that carries every protocol role.
const ServiceUUID = "0000181f-0000-1000-8000-00805f9b34fb"

// Role is a logical protocol endpoint.
type Role int

const (
	RoleUnknown Role = iota
	RoleAuthDevice
	RoleAuthFlag
	RoleAuthHost
	RoleCurrentTime
	RoleConvertCmd
	RoleGlucose
	RoleGlucoseRecord
	RoleRequestByCount
)

var roleNames = map[Role]string{
	RoleAuthDevice:     "auth-device",
	RoleAuthFlag:       "auth-flag",
	RoleAuthHost:       "auth-host",
	RoleCurrentTime:    "current-time",
	RoleConvertCmd:     "convert-cmd",
	RoleGlucose:        "glucose",
	RoleGlucoseRecord:  "glucose-record",
	RoleRequestByCount: "request-by-count",
}

var roleUUIDs = map[Role]string{
	RoleAuthDevice:     "86805092-92b5-4d8c-9d73-0785ff6f9147",
	RoleAuthFlag:       "785022c6-08c0-48af-ad17-684bb889aa83",
	RoleAuthHost:       "1756ef6e-884b-4eb0-b646-f04ab18408f9",
	RoleCurrentTime:    "2a2b",
	RoleConvertCmd:     "d78d0706-c775-448d-8a78-01215e7c2e11",
	RoleGlucose:        "2aa7",
	RoleGlucoseRecord:  "69e4f45f-a180-422c-83c0-324146402112",
	RoleRequestByCount: "ccecb015-6750-41fd-ba78-3fb77d350574",
}

// byUUID maps the normalized characteristic UUID back to its role.
var byUUID = make(map[string]Role, len(roleUUIDs))

func init() {
	for role, u := range roleUUIDs {
		if _, err := uuid.Parse(expandUUID(u)); err != nil {
			panic(fmt.Sprintf("registry: bad UUID for %s: %v", role, err))
		}
		byUUID[device.NormalizeUUID(u)] = role
	}
}

// expandUUID turns a 16-bit SIG UUID into its 128-bit form.
func expandUUID(u string) string {
	if len(u) == 4 {
		return "0000" + strings.ToLower(u) + "-0000-1000-8000-00805f9b34fb"
	}
	return u
}

// Roles lists every protocol role in handshake order.
func Roles() []Role {
	return []Role{
		RoleAuthDevice,
		RoleAuthFlag,
		RoleCurrentTime,
		RoleAuthHost,
		RoleConvertCmd,
		RoleGlucose,
		RoleGlucoseRecord,
		RoleRequestByCount,
	}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// UUID returns the characteristic UUID as published by the sensor.
func (r Role) UUID() string {
	return roleUUIDs[r]
}

// FullUUID returns the 128-bit form of the role's UUID.
func (r Role) FullUUID() (uuid.UUID, error) {
	u, ok := roleUUIDs[r]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown role %s", r)
	}
	return uuid.Parse(expandUUID(u))
}

// RoleForUUID resolves a characteristic UUID in any accepted format.
func RoleForUUID(u string) (Role, bool) {
	role, ok := byUUID[device.NormalizeUUID(u)]
	return role, ok
}

// ParseRole resolves a role by its name.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return role, nil
		}
	}
	return RoleUnknown, fmt.Errorf("unknown role %q", name)
}
