package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLink struct {
	sent      []string
	replies   map[string]string
	err       error
	lastValue bool
}

func (f *fakeLink) SendCommand(cmd string, expectsValue bool) (string, error) {
	f.sent = append(f.sent, cmd)
	f.lastValue = expectsValue
	if f.err != nil {
		return "", f.err
	}
	return f.replies[cmd], nil
}

func TestShutterMoving(t *testing.T) {
	fl := &fakeLink{replies: map[string]string{"OPR MV": "1"}}
	c := New(fl)

	moving, err := c.ShutterMoving()
	require.NoError(t, err)
	assert.True(t, moving)
	assert.Equal(t, []string{"OPR MV"}, fl.sent)
	assert.True(t, fl.lastValue)
}

func TestAzimuthPosition(t *testing.T) {
	fl := &fakeLink{replies: map[string]string{"APR P": "-1234"}}
	c := New(fl)

	pos, err := c.AzimuthPosition()
	require.NoError(t, err)
	assert.Equal(t, -1234, pos)
}

func TestShutterLimitBits(t *testing.T) {
	assert.True(t, ClosedLimit(0b0100))
	assert.False(t, ClosedLimit(0b1000))
	assert.True(t, OpenLimit(0b1000))
	assert.False(t, OpenLimit(0b0100))
	assert.True(t, ClosedLimit(0b1100))
	assert.True(t, OpenLimit(0b1100))
}

func TestMoveAzimuthAbsoluteEncoding(t *testing.T) {
	fl := &fakeLink{replies: map[string]string{}}
	c := New(fl)

	require.NoError(t, c.MoveAzimuthAbsolute(-100000000))
	assert.Equal(t, []string{"AMA -100000000"}, fl.sent)
}

func TestMoveShutterRelativeEncoding(t *testing.T) {
	fl := &fakeLink{replies: map[string]string{}}
	c := New(fl)

	require.NoError(t, c.MoveShutterRelative(-100000000))
	assert.Equal(t, []string{"OMR -100000000"}, fl.sent)
}

func TestHomeAndStop(t *testing.T) {
	fl := &fakeLink{replies: map[string]string{}}
	c := New(fl)

	require.NoError(t, c.HomeAzimuth())
	require.NoError(t, c.StopAzimuth())
	require.NoError(t, c.StopShutter())
	require.NoError(t, c.ZeroAzimuthRegister())

	assert.Equal(t, []string{"AHM 1", "ASL 0", "OSL 0", "AP=0"}, fl.sent)
}
