package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Record is one raw payload returned by the cluster API, such as an
// inventory entry, a node status or a guest status.
type Record map[string]any

// Derived fields injected into guest status records.
const (
	FieldIPAddresses = "ip_addresses"
	FieldPreferredIP = "preferred_ip"
)

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the named field as a string.
func (r Record) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

// Float returns the named field as a float64. Numeric strings are parsed.
func (r Record) Float(field string) (float64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int returns the named field as an int. Fractions are truncated.
func (r Record) Int(field string) (int, bool) {
	f, ok := r.Float(field)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(f), true
}

// Map returns a nested object field.
func (r Record) Map(field string) Record {
	switch m := r[field].(type) {
	case map[string]any:
		return Record(m)
	case Record:
		return m
	default:
		return Record{}
	}
}

// Strings returns a list-of-strings field.
func (r Record) Strings(field string) []string {
	switch v := r[field].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Key extracts the resource key from an inventory record. It returns false
// for records missing a node or id and for kinds other than vm/container.
func (r Record) Key() (ResourceKey, bool) {
	node, ok := r.String("node")
	if !ok || node == "" {
		return ResourceKey{}, false
	}
	typ, ok := r.String("type")
	if !ok {
		return ResourceKey{}, false
	}
	kind, err := ParseKind(typ)
	if err != nil || !kind.IsGuest() {
		return ResourceKey{}, false
	}
	id, ok := r.Int("vmid")
	if !ok {
		return ResourceKey{}, false
	}
	return GuestKey(node, kind, id), true
}

// NodeName extracts the node name from a node-list record.
func (r Record) NodeName() (string, bool) {
	node, ok := r.String("node")
	if !ok || node == "" {
		return "", false
	}
	return node, true
}

// GuestDisplayName renders "<name> (VMID <id>)", falling back to the kind
// when the guest has no name.
func GuestDisplayName(key ResourceKey, r Record) string {
	name, ok := r.String("name")
	if !ok || name == "" {
		name = fmt.Sprintf("%s %d", key.Kind.APIType(), key.ID)
	}
	return fmt.Sprintf("%s (VMID %d)", name, key.ID)
}

// NodeDisplayName renders the display name used for compute nodes.
func NodeDisplayName(node string) string {
	return "Proxmox Node " + node
}
