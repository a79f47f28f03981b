// Package motor encodes the ZRO-style motor controller command vocabulary
// (spec §4.2) as the ASCII strings the serial link transports, and parses
// their replies back into typed values. It has no opinion about dome state;
// that belongs to pkg/domestate and pkg/arbiter.
package motor

import (
	"fmt"
	"strconv"
	"strings"
)

// link is the subset of *serial.Link that Controller depends on.
type link interface {
	SendCommand(cmd string, expectsValue bool) (string, error)
}

// Controller issues the motor command vocabulary over a serial link.
type Controller struct {
	link link
}

// New wraps a serial link (or a test fake satisfying the same interface).
func New(l link) *Controller {
	return &Controller{link: l}
}

// ShutterMoving polls "OPR MV": reply "1" means the shutter motor is moving.
func (c *Controller) ShutterMoving() (bool, error) {
	return c.boolCommand("OPR MV")
}

// AzimuthMoving polls "APR MV": reply "1" means the azimuth motor is moving.
func (c *Controller) AzimuthMoving() (bool, error) {
	return c.boolCommand("APR MV")
}

// ShutterVelocity reads "OPR V": signed velocity, positive while opening,
// negative while closing, zero while stopped.
func (c *Controller) ShutterVelocity() (int, error) {
	return c.intCommand("OPR V")
}

// ShutterLimits reads "OPR IL", the shutter's input-limit bitfield. Bit 2 is
// the closed limit, bit 3 the open limit.
func (c *Controller) ShutterLimits() (int, error) {
	return c.intCommand("OPR IL")
}

// ClosedLimit reports bit 2 of the shutter limit bitfield.
func ClosedLimit(bits int) bool { return bits&(1<<2) != 0 }

// OpenLimit reports bit 3 of the shutter limit bitfield.
func OpenLimit(bits int) bool { return bits&(1<<3) != 0 }

// AzimuthPosition reads "APR P", the azimuth motor's current signed step
// count.
func (c *Controller) AzimuthPosition() (int, error) {
	return c.intCommand("APR P")
}

// ZeroAzimuthRegister sets the azimuth step register to zero ("AP=0"), done
// on reaching home.
func (c *Controller) ZeroAzimuthRegister() error {
	_, err := c.link.SendCommand("AP=0", false)
	return err
}

// MoveShutterRelative commands the shutter motor to move by the given
// relative step count ("OMR <n>"); negative closes.
func (c *Controller) MoveShutterRelative(steps int) error {
	_, err := c.link.SendCommand(fmt.Sprintf("OMR %d", steps), false)
	return err
}

// MoveAzimuthAbsolute commands the azimuth motor to an absolute step count
// ("AMA <n>").
func (c *Controller) MoveAzimuthAbsolute(steps int) error {
	_, err := c.link.SendCommand(fmt.Sprintf("AMA %d", steps), false)
	return err
}

// StopShutter stops the shutter motor at zero velocity ("OSL 0").
func (c *Controller) StopShutter() error {
	_, err := c.link.SendCommand("OSL 0", false)
	return err
}

// StopAzimuth stops the azimuth motor at zero velocity ("ASL 0").
func (c *Controller) StopAzimuth() error {
	_, err := c.link.SendCommand("ASL 0", false)
	return err
}

// HomeAzimuth initiates a home seek on the azimuth axis ("AHM 1").
func (c *Controller) HomeAzimuth() error {
	_, err := c.link.SendCommand("AHM 1", false)
	return err
}

func (c *Controller) boolCommand(cmd string) (bool, error) {
	v, err := c.intCommand(cmd)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (c *Controller) intCommand(cmd string) (int, error) {
	reply, err := c.link.SendCommand(cmd, true)
	if err != nil {
		return 0, fmt.Errorf("%s: %v", cmd, err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("%s: unparseable reply %q: %v", cmd, reply, err)
	}
	return v, nil
}
