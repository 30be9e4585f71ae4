package offline

import (
	"encoding/json"
	"testing"
)

// TestQueryKeyIdentity verifies segment-wise equality and map-key stability
func TestQueryKeyIdentity(t *testing.T) {
	a := Key("posts", "user-1")
	b := Key("posts", "user-1")
	c := Key("posts", "user-2")

	if !a.Equal(b) {
		t.Error("Expected equal keys for identical segments")
	}
	if a.Equal(c) {
		t.Error("Expected inequality for differing segments")
	}
	if a.String() != b.String() {
		t.Error("Expected identical string form for equal keys")
	}

	// Segment boundaries must not collapse
	if Key("ab", "c").String() == Key("a", "bc").String() {
		t.Error("Expected distinct string forms for distinct segmentations")
	}

	t.Log("✓ Query keys compare segment-wise")
}

// TestQueryKeyJSON verifies keys serialize as plain JSON arrays
func TestQueryKeyJSON(t *testing.T) {
	key := Key("posts", "feed", "42")

	data, err := json.Marshal(key)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `["posts","feed","42"]` {
		t.Errorf("Unexpected JSON form: %s", data)
	}

	var decoded QueryKey
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !key.Equal(decoded) {
		t.Errorf("Round-trip mismatch: %v", decoded)
	}

	t.Log("✓ Query keys round-trip as JSON arrays")
}
