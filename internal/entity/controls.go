package entity

import (
	"context"
	"fmt"

	"github.com/narvanalabs/pve-monitor/internal/models"
	"github.com/narvanalabs/pve-monitor/internal/pve"
)

// ActionRunner issues guest lifecycle actions.
type ActionRunner interface {
	GuestAction(ctx context.Context, node string, id int, kind models.Kind, action string) error
}

type control struct {
	base
	runner ActionRunner
}

func (c *control) run(ctx context.Context, action string) error {
	if err := c.runner.GuestAction(ctx, c.key.Node, c.key.ID, c.key.Kind, action); err != nil {
		return fmt.Errorf("%s %s: %w", action, c.key, err)
	}
	c.source.RefreshAsync()
	return nil
}

// PowerSwitch starts and shuts down a guest. It is on while the guest runs.
type PowerSwitch struct {
	control
}

var (
	_ ResourceEntity = (*PowerSwitch)(nil)
	_ Switchable     = (*PowerSwitch)(nil)
)

// NewPowerSwitch creates the power switch of one guest.
func NewPowerSwitch(connectionID string, key models.ResourceKey, record models.Record, source Source, runner ActionRunner) *PowerSwitch {
	return &PowerSwitch{control{
		base:   newBase(connectionID, key, record, source, PlatformSwitch, "power", "Power"),
		runner: runner,
	}}
}

// IsOn reports whether the guest is running.
func (s *PowerSwitch) IsOn() bool {
	status, _ := s.data().String("status")
	return status == "running"
}

// State returns "on" or "off".
func (s *PowerSwitch) State() any {
	if s.IsOn() {
		return "on"
	}
	return "off"
}

// TurnOn starts the guest.
func (s *PowerSwitch) TurnOn(ctx context.Context) error {
	return s.run(ctx, pve.ActionStart)
}

// TurnOff asks the guest to shut down cleanly.
func (s *PowerSwitch) TurnOff(ctx context.Context) error {
	return s.run(ctx, pve.ActionShutdown)
}

// Button triggers one guest action when pressed.
type Button struct {
	control
	action string
}

var (
	_ ResourceEntity = (*Button)(nil)
	_ Pressable      = (*Button)(nil)
)

// NewGuestButtons creates the reboot and hard stop buttons of one guest.
func NewGuestButtons(connectionID string, key models.ResourceKey, record models.Record, source Source, runner ActionRunner) []ResourceEntity {
	return []ResourceEntity{
		&Button{
			control: control{base: newBase(connectionID, key, record, source, PlatformButton, "reboot", "Reboot"), runner: runner},
			action:  pve.ActionReboot,
		},
		&Button{
			control: control{base: newBase(connectionID, key, record, source, PlatformButton, "stop_hard", "Stop (hard)"), runner: runner},
			action:  pve.ActionStop,
		},
	}
}

// Action returns the API action the button issues.
func (b *Button) Action() string {
	return b.action
}

// State is always nil; buttons are stateless.
func (b *Button) State() any {
	return nil
}

// Press issues the button's action.
func (b *Button) Press(ctx context.Context) error {
	return b.run(ctx, b.action)
}
