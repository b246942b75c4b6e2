package controller

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBits(t *testing.T) {
	tests := []struct {
		name string
		bits []bool
		want string
	}{
		{"all on", []bool{true, true, true}, "111"},
		{"all off", []bool{false, false, false}, "000"},
		{"1 and 3 on", []bool{true, false, true}, "101"},
		{"only 2 on", []bool{false, true, false}, "010"},
		{"empty", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeBits(tt.bits))
		})
	}
}

func TestBits_RoundTrip(t *testing.T) {
	bits := []bool{true, false, true, true}

	wire := EncodeBits(bits)
	assert.Equal(t, "1011", wire)

	decoded, err := DecodeBits(wire)
	require.NoError(t, err)
	assert.Equal(t, bits, decoded)
}

func TestDecodeBits_Invalid(t *testing.T) {
	_, err := DecodeBits("10x1")
	assert.Error(t, err)

	_, err = DecodeBits("1 0")
	assert.Error(t, err)
}

func TestHVPayload(t *testing.T) {
	on := []bool{true, false, true, true}

	assert.Equal(t, "1011", HVPayload([]bool{true, true, true, true}, on))
	assert.Equal(t, "0000", HVPayload([]bool{false, true, false, false}, on), "off bank must never get HV")
	assert.Equal(t, "1000", HVPayload([]bool{true}, on), "missing entries are off")
}

func TestDrainPayload_Inversion(t *testing.T) {
	allOn := []bool{true, true, true, true}

	// Every desired drain vector of four banks.
	for m := 0; m < 16; m++ {
		drain := make([]bool, 4)
		want := make([]byte, 4)
		for i := range drain {
			drain[i] = m&(1<<i) != 0
			want[i] = '1'
			if drain[i] {
				want[i] = '0'
			}
		}
		assert.Equal(t, string(want), DrainPayload(drain, allOn), "drain %v", drain)
	}
}

func TestDrainPayload_OffBanksStayDrained(t *testing.T) {
	on := []bool{true, false, true}

	assert.Equal(t, "101", DrainPayload([]bool{false, false, false}, on))
	assert.Equal(t, "001", DrainPayload([]bool{true, false, false}, on))
	assert.Equal(t, "000", DrainPayload([]bool{true, true, true}, on))
}

func TestParseInts(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []int
		wantErr bool
	}{
		{name: "single", line: "512", want: []int{512}},
		{name: "three codes", line: "0,1023,511", want: []int{0, 1023, 511}},
		{name: "spaces and CR", line: " 1, 2 ,3\r", want: []int{1, 2, 3}},
		{name: "negative", line: "-5,5", want: []int{-5, 5}},
		{name: "empty", line: "", wantErr: true},
		{name: "not a number", line: "1,two,3", wantErr: true},
		{name: "trailing separator", line: "1,2,", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInts(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatInts(t *testing.T) {
	assert.Equal(t, "1,20,300", FormatInts([]int{1, 20, 300}))
	assert.Equal(t, "", FormatInts(nil))
}

func TestExpect(t *testing.T) {
	assert.True(t, Exactly(RespHVOn)("HV ON"))
	assert.False(t, Exactly(RespHVOn)("HV ON "))

	assert.True(t, Echo(RespHV, "101")("HV pins set to: 101"))
	assert.False(t, Echo(RespHV, "101")("HV pins set to: 100"))

	assert.True(t, Prefixed(RespDisplayCharge)("Displaying charge: 42"))
	assert.False(t, Prefixed(RespDisplayCharge)("charge: 42"))
}

func TestCommunicationError(t *testing.T) {
	err := &CommunicationError{Command: CmdMainHVOff, Response: "HV ON"}
	assert.Contains(t, err.Error(), "OFF")
	assert.Contains(t, err.Error(), "HV ON")
	assert.True(t, IsCommunication(err))

	wrapped := &CommunicationError{Command: CmdReadVoltages, Err: ErrTimeout}
	assert.ErrorIs(t, wrapped, ErrTimeout)
	assert.True(t, IsCommunication(wrapped))

	assert.False(t, IsCommunication(assert.AnError))
}
