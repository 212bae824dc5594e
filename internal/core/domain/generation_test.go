package domain

import (
	"testing"
	"time"

	"github.com/berfenger/smartboiler2mqtt/pkg/sbprotocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerationByName(t *testing.T) {

	assert := assert.New(t)

	gen, err := GenerationByName("A")
	assert.NoError(err)
	assert.True(gen.HasPin)
	assert.Equal(600*time.Second, gen.DefaultPollInterval)

	gen, err = GenerationByName("b")
	assert.NoError(err)
	assert.False(gen.HasPin)
	assert.Equal(30*time.Second, gen.DefaultPollInterval)

	_, err = GenerationByName("c")
	assert.Error(err)
}

func TestModeCodesAreNotIntermixed(t *testing.T) {

	assert := assert.New(t)

	_, err := GenerationA.ModeCode("STOP")
	assert.ErrorIs(err, ErrInvalidMode)

	_, err = GenerationB.ModeCode("PROG")
	assert.ErrorIs(err, ErrInvalidMode)

	code, err := GenerationB.ModeCode("smart")
	assert.NoError(err)
	assert.Equal(uint8(3), code)

	name, ok := GenerationA.ModeName(3)
	assert.True(ok)
	assert.Equal("MANUAL", name)

	_, ok = GenerationA.ModeName(4)
	assert.False(ok)
}

func TestHdoCoupledModeFrames(t *testing.T) {

	frames, err := GenerationB.ModeFrames("SMARTHDO")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{sbprotocol.SetHdoEnabledFrame(true), sbprotocol.SetModeFrame(4)}, frames)

	frames, err = GenerationB.ModeFrames("NORMAL")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{sbprotocol.SetHdoEnabledFrame(false), sbprotocol.SetModeFrame(1)}, frames)

	frames, err = GenerationA.ModeFrames("SMART")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{sbprotocol.SetModeFrame(1)}, frames)
}

func TestValidatePin(t *testing.T) {

	assert.NoError(t, ValidatePin(1111))
	assert.NoError(t, ValidatePin(9999))
	assert.ErrorIs(t, ValidatePin(1110), ErrInvalidPin)
	assert.ErrorIs(t, ValidatePin(0), ErrInvalidPin)
}

func TestSessionStateText(t *testing.T) {

	session := DeviceSession{State: SessionError, LastError: &sbprotocol.AuthError{Pin: 4321, Reason: "device rejected the handshake"}}
	assert.Equal(t, "error: authentication with pin 4321 rejected: device rejected the handshake", session.StateText())

	session = DeviceSession{State: SessionReady}
	assert.Equal(t, "ready", session.StateText())
}
