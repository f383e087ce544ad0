package grid

import (
	"encoding/json"
	"sort"
	"strings"
)

// Capabilities describes a requested or offered session configuration. Keys
// are W3C capability names; values are arbitrary JSON-compatible values.
type Capabilities map[string]any

// Clone returns a shallow copy so callers can hold snapshots without
// observing later mutation.
func (c Capabilities) Clone() Capabilities {
	if c == nil {
		return nil
	}
	out := make(Capabilities, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// BrowserName returns the browserName capability when present.
func (c Capabilities) BrowserName() string {
	return c.stringValue("browserName")
}

// BrowserVersion returns the browserVersion capability when present.
func (c Capabilities) BrowserVersion() string {
	return c.stringValue("browserVersion")
}

// PlatformName returns the platformName capability when present.
func (c Capabilities) PlatformName() string {
	return c.stringValue("platformName")
}

func (c Capabilities) stringValue(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsExtension reports whether a capability key is a vendor extension
// (contains a colon, e.g. "goog:chromeOptions"). Extensions never
// participate in stereotype matching.
func IsExtension(key string) bool {
	return strings.Contains(key, ":")
}

// Fingerprint renders a canonical string form used for map keys and
// de-duplication of stereotype sets. Keys are emitted sorted; values go
// through JSON so nested option blocks compare structurally.
func (c Capabilities) Fingerprint() string {
	if len(c) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		raw, err := json.Marshal(c[k])
		if err != nil {
			sb.WriteString("?")
			continue
		}
		sb.Write(raw)
	}
	sb.WriteByte('}')
	return sb.String()
}

func (c Capabilities) String() string {
	return c.Fingerprint()
}
