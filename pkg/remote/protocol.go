package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// ProtocolVersion is the current sync protocol version.
	ProtocolVersion = "1"

	// ClientCapabilities lists all capabilities this client supports.
	ClientCapabilities = "zstd,sideband"

	headerProtocol     = "Got-Protocol"
	headerCapabilities = "Got-Capabilities"

	contentTypeSideband = "application/x-got-sideband"
)

// Capabilities represents a set of protocol capabilities.
type Capabilities struct {
	set map[string]struct{}
}

// ParseCapabilities parses a comma-separated capability string.
func ParseCapabilities(raw string) Capabilities {
	caps := Capabilities{set: make(map[string]struct{})}
	for _, cap := range strings.Split(raw, ",") {
		cap = strings.TrimSpace(cap)
		if cap != "" {
			caps.set[cap] = struct{}{}
		}
	}
	return caps
}

// Has returns true if the capability is present.
func (c Capabilities) Has(name string) bool {
	_, ok := c.set[name]
	return ok
}

// Intersect returns capabilities present in both sets.
func (c Capabilities) Intersect(other Capabilities) Capabilities {
	result := Capabilities{set: make(map[string]struct{})}
	for k := range c.set {
		if _, ok := other.set[k]; ok {
			result.set[k] = struct{}{}
		}
	}
	return result
}

// String returns a sorted comma-separated capability string.
func (c Capabilities) String() string {
	names := make([]string, 0, len(c.set))
	for k := range c.set {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// RemoteError is a structured error from the remote server.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Is maps the server's stale-ref code onto ErrRefConflict.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRefConflict && e.Code == "ref_conflict"
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Code == "" {
		return nil
	}
	return &re
}

// toWireRef strips the "refs/" prefix the server omits.
func toWireRef(name string) string {
	return strings.TrimPrefix(strings.TrimSpace(name), "refs/")
}

// fromWireRef restores the full ref name.
func fromWireRef(name string) string {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, "refs/") || name == "HEAD" {
		return name
	}
	return "refs/" + name
}
