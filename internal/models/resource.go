// Package models defines the domain types shared across the monitor.
package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies what sort of cluster object a ResourceKey refers to.
type Kind string

const (
	// KindNode is a compute node of the cluster.
	KindNode Kind = "node"
	// KindVM is a QEMU/KVM virtual machine.
	KindVM Kind = "vm"
	// KindContainer is an LXC container.
	KindContainer Kind = "container"
)

// ErrInvalidKind is returned when a kind string is not recognized.
var ErrInvalidKind = errors.New("invalid guest type")

// ParseKind accepts both the friendly names (vm, container) and the
// names used by the Proxmox API (qemu, lxc).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "vm", "qemu":
		return KindVM, nil
	case "container", "lxc":
		return KindContainer, nil
	case "node":
		return KindNode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

// IsGuest reports whether the kind is a VM or a container.
func (k Kind) IsGuest() bool {
	return k == KindVM || k == KindContainer
}

// APIType returns the path segment the Proxmox API uses for the kind.
func (k Kind) APIType() string {
	switch k {
	case KindVM:
		return "qemu"
	case KindContainer:
		return "lxc"
	default:
		return string(k)
	}
}

// SupportsAgent reports whether the guest kind exposes an in-guest agent
// that can be queried for network addresses.
func (k Kind) SupportsAgent() bool {
	return k == KindVM
}

// Model returns the device model label for the kind.
func (k Kind) Model() string {
	switch k {
	case KindVM:
		return "Virtual Machine"
	case KindContainer:
		return "Container"
	default:
		return "Node"
	}
}

// ResourceKey uniquely identifies a trackable node or guest within one
// cluster connection. Compute nodes use ID 0.
type ResourceKey struct {
	Node string
	Kind Kind
	ID   int
}

// NodeKey returns the key for a compute node.
func NodeKey(node string) ResourceKey {
	return ResourceKey{Node: node, Kind: KindNode}
}

// GuestKey returns the key for a guest.
func GuestKey(node string, kind Kind, id int) ResourceKey {
	return ResourceKey{Node: node, Kind: kind, ID: id}
}

// Identifier returns the stable device identifier for the key:
// "node:<name>" for compute nodes and "<node>:<kind>:<id>" for guests.
func (k ResourceKey) Identifier() string {
	if k.Kind == KindNode {
		return "node:" + k.Node
	}
	return fmt.Sprintf("%s:%s:%d", k.Node, k.Kind, k.ID)
}

// String implements fmt.Stringer.
func (k ResourceKey) String() string {
	return k.Identifier()
}

// ParseIdentifier parses a guest identifier of the form "node:kind:id".
// Node identifiers are rejected.
func ParseIdentifier(identifier string) (ResourceKey, error) {
	if strings.HasPrefix(identifier, "node:") {
		return ResourceKey{}, fmt.Errorf("identifier %q refers to a node, not a guest", identifier)
	}
	parts := strings.Split(identifier, ":")
	if len(parts) != 3 {
		return ResourceKey{}, fmt.Errorf("invalid guest identifier: %s", identifier)
	}
	kind, err := ParseKind(parts[1])
	if err != nil {
		return ResourceKey{}, err
	}
	if !kind.IsGuest() {
		return ResourceKey{}, fmt.Errorf("%w: %q", ErrInvalidKind, parts[1])
	}
	id, err := strconv.Atoi(parts[2])
	if err != nil {
		return ResourceKey{}, fmt.Errorf("invalid guest id in identifier %s: %w", identifier, err)
	}
	return GuestKey(parts[0], kind, id), nil
}
