// Package cm11a drives an X10 CM11A power-line interface over a serial port.
package cm11a

import (
	"context"
	"errors"
	"fmt"

	"x10-go-home/internal/x10"
)

var (
	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("cm11a: closed")
	// ErrChecksum is returned when the interface keeps echoing a wrong checksum.
	ErrChecksum = errors.New("cm11a: checksum mismatch")
	// ErrTimeout is returned when the interface does not answer in time.
	ErrTimeout = errors.New("cm11a: timeout")
)

// Controller is the command surface of an X10 power-line controller.
type Controller interface {
	TurnOn(ctx context.Context, addrs ...x10.Address) error
	TurnOff(ctx context.Context, addrs ...x10.Address) error
	Brighten(ctx context.Context, addrs []x10.Address, steps int) error
	Dim(ctx context.Context, addrs []x10.Address, steps int) error

	// OnUnitStatus registers the handler for power-line activity reported
	// by the controller.
	OnUnitStatus(handler func(x10.UnitStatus))
	// OnClosed registers the handler fired once after the link is closed.
	OnClosed(handler func())

	Close() error
}

// Send issues cmd on c.
func Send(ctx context.Context, c Controller, cmd x10.Command) error {
	switch cmd.Kind {
	case x10.TurnOn:
		return c.TurnOn(ctx, cmd.Address)
	case x10.TurnOff:
		return c.TurnOff(ctx, cmd.Address)
	case x10.Brighten:
		return c.Brighten(ctx, []x10.Address{cmd.Address}, cmd.Steps)
	case x10.Dim:
		return c.Dim(ctx, []x10.Address{cmd.Address}, cmd.Steps)
	}
	return fmt.Errorf("cm11a: unsupported command %s", cmd)
}
