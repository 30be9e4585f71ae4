// Package offline implements the offline-first synchronization core:
// a durable query cache, a durable mutation queue, a network probe, a
// retry scheduler, and the optimistic-update coordinator that ties a
// UI-triggered write to an eventual remote execution.
package offline

import (
	"encoding/json"
	"strings"
)

// QueryKey is an ordered sequence of string segments identifying one
// logical resource, e.g. ["posts"] or ["chat", chatID]. Segment order
// is significant.
type QueryKey []string

// Key builds a QueryKey from segments.
func Key(segments ...string) QueryKey {
	return QueryKey(segments)
}

// String returns the canonical form used for map lookups. Segments are
// joined with a separator that never appears in well-formed segments.
func (k QueryKey) String() string {
	return strings.Join(k, "\x1f")
}

// Equal reports whether two keys have identical segments in order.
func (k QueryKey) Equal(other QueryKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the key as a plain JSON array of segments so the
// persisted snapshot stays readable by other Mada clients.
func (k QueryKey) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(k))
}

// UnmarshalJSON decodes a JSON array of segments.
func (k *QueryKey) UnmarshalJSON(data []byte) error {
	var segments []string
	if err := json.Unmarshal(data, &segments); err != nil {
		return err
	}
	*k = QueryKey(segments)
	return nil
}
