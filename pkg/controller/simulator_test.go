package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/coilgun/pkg/config"
)

func exchange(t *testing.T, tr Transport, lines ...string) string {
	t.Helper()
	for _, l := range lines {
		require.NoError(t, tr.Send(l))
	}
	resp, err := tr.Read()
	require.NoError(t, err)
	return resp
}

func TestNewSimulator_NilConfig(t *testing.T) {
	sim := NewSimulator(nil)
	assert.True(t, sim.IsConnected())
	assert.Equal(t, []int{0, 0, 0}, sim.Codes())
	assert.Equal(t, []bool{true, true, true}, sim.Draining())
	assert.False(t, sim.MainHV())
}

func TestSimulator_Acks(t *testing.T) {
	sim := NewSimulator(nil)

	assert.Equal(t, RespOK, exchange(t, sim, CmdTest))
	assert.Equal(t, RespHVOn, exchange(t, sim, CmdMainHVOn))
	assert.True(t, sim.MainHV())
	assert.Equal(t, RespHVOff, exchange(t, sim, CmdMainHVOff))
	assert.False(t, sim.MainHV())
	assert.Equal(t, RespCharge, exchange(t, sim, CmdCharge))
	assert.Equal(t, RespCountdown, exchange(t, sim, CmdCountdown))
	assert.Equal(t, RespAbort, exchange(t, sim, CmdAbort))
	assert.Equal(t, RespBlink, exchange(t, sim, CmdBlink))
	assert.Equal(t, "000", exchange(t, sim, CmdSensors))
	assert.Equal(t, RespHV+"101", exchange(t, sim, CmdHV, "101"))
	assert.Equal(t, []bool{true, false, true}, sim.HV())
	assert.Equal(t, RespDrain+"110", exchange(t, sim, CmdDrain, "110"))
	assert.Equal(t, []bool{false, false, true}, sim.Draining())
	assert.Equal(t, RespDisplayCharge+"42", exchange(t, sim, CmdDisplayCharge, "42"))
	assert.Equal(t, RespPot+"1,2,3", exchange(t, sim, CmdPot, "1,2,3"))
	assert.Equal(t, []int{1, 2, 3}, sim.Positions())
	assert.Contains(t, exchange(t, sim, "NONSENSE"), "UNKNOWN")

	assert.Equal(t, []string{"101"}, sim.Payloads(CmdHV))
	assert.Equal(t, []string{"110"}, sim.Payloads(CmdDrain))
}

func TestSimulator_BadPayloads(t *testing.T) {
	sim := NewSimulator(nil)

	assert.Contains(t, exchange(t, sim, CmdHV, "10"), "ERROR")
	assert.Contains(t, exchange(t, sim, CmdDrain, "1x1"), "ERROR")
	assert.Contains(t, exchange(t, sim, CmdDisplayCharge, "lots"), "ERROR")
	assert.Contains(t, exchange(t, sim, CmdPot, "1,2"), "ERROR")
	assert.Equal(t, []bool{false, false, false}, sim.HV())
}

func TestSimulator_ChargeAndDrain(t *testing.T) {
	sim := NewSimulator(&config.MockConfig{Coils: 2, ChargeStep: 10, DrainStep: 15})

	exchange(t, sim, CmdMainHVOn)
	exchange(t, sim, CmdDrain, "11")
	exchange(t, sim, CmdHV, "10")

	assert.Equal(t, "0,0", exchange(t, sim, CmdReadVoltages))
	assert.Equal(t, "10,0", exchange(t, sim, CmdReadVoltages))
	assert.Equal(t, "20,0", exchange(t, sim, CmdReadVoltages))

	// Draining wins over charging.
	exchange(t, sim, CmdDrain, "01")
	assert.Equal(t, "30,0", exchange(t, sim, CmdReadVoltages))
	assert.Equal(t, "15,0", exchange(t, sim, CmdReadVoltages))
	assert.Equal(t, "0,0", exchange(t, sim, CmdReadVoltages))
	assert.Equal(t, []int{0, 0}, sim.Codes())
}

func TestSimulator_NoChargeWithoutMainHV(t *testing.T) {
	sim := NewSimulator(&config.MockConfig{Coils: 1, ChargeStep: 10})

	exchange(t, sim, CmdDrain, "1")
	exchange(t, sim, CmdHV, "1")
	exchange(t, sim, CmdReadVoltages)
	assert.Equal(t, []int{0}, sim.Codes())
}

func TestSimulator_Fire(t *testing.T) {
	sim := NewSimulator(&config.MockConfig{
		Coils:        3,
		Residual:     0.1,
		BlockingTime: 1000 * time.Microsecond,
		SensorGap:    5 * time.Millisecond,
	})
	sim.SetCodes([]int{500, 400, 300})

	require.NoError(t, sim.Send(CmdFire))
	blocking, err := sim.Read()
	require.NoError(t, err)
	triggers, err := sim.Read()
	require.NoError(t, err)

	assert.Equal(t, "1000,769,625", blocking)
	assert.Equal(t, "0,5000,10000", triggers)
	assert.Equal(t, []int{50, 40, 30}, sim.Codes())
}

func TestSimulator_ReadEmpty(t *testing.T) {
	sim := NewSimulator(nil)
	_, err := sim.Read()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSimulator_Flush(t *testing.T) {
	sim := NewSimulator(nil)
	require.NoError(t, sim.Send(CmdTest))
	require.NoError(t, sim.Send(CmdHV))
	require.NoError(t, sim.Flush())

	_, err := sim.Read()
	assert.ErrorIs(t, err, ErrTimeout)

	// The pending HV command was dropped, so this is a plain command again.
	assert.Equal(t, RespOK, exchange(t, sim, CmdTest))
}

func TestSimulator_Close(t *testing.T) {
	sim := NewSimulator(nil)
	require.NoError(t, sim.Close())
	assert.False(t, sim.IsConnected())
	assert.ErrorIs(t, sim.Send(CmdTest), ErrClosed)
	_, err := sim.Read()
	assert.ErrorIs(t, err, ErrClosed)
}
