package pna

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/emscan/internal/instrument"
	"github.com/roman-kulish/emscan/internal/instrument/instrumenttest"
)

const idn = "Agilent Technologies,E8363B,MY43021106,A.07.50.67"

func connected(t *testing.T, replies map[string]string) (*Analyzer, *instrumenttest.Transport) {
	t.Helper()

	if replies == nil {
		replies = make(map[string]string)
	}
	replies["*IDN?"] = idn

	tr := instrumenttest.New(replies)
	a := New(WithDialer(tr.Dialer()))
	require.NoError(t, a.Connect(context.Background(), "TCPIP0::10.0.0.1::inst0::INSTR"))
	assert.Equal(t, idn, a.Name())
	tr.Reset()

	return a, tr
}

func TestInitialize(t *testing.T) {
	a, tr := connected(t, nil)

	s := instrument.Settings{
		NumPoints:   201,
		IFBandwidth: 5000,
		FreqStart:   3e9,
		FreqStop:    5e9,
		Power:       -5,
		Measure:     []string{"S21"},
	}
	require.NoError(t, a.Initialize(s))

	want := []string{
		"*IDN?",
		"SYSTEM:FPRESET",
		"DISPLAY:VISIBLE OFF",
		"CALCULATE1:PARAMETER:DEFINE 'parameter_S11', S11",
		"CALCULATE1:PARAMETER:DEFINE 'parameter_S12', S12",
		"CALCULATE1:PARAMETER:DEFINE 'parameter_S21', S21",
		"CALCULATE1:PARAMETER:DEFINE 'parameter_S22', S22",
		"INITIATE:CONTINUOUS OFF",
		"TRIGGER:SOURCE MANUAL",
		"SENSE1:SWEEP:MODE HOLD",
		"SENSE1:AVERAGE OFF",
		"SENSE1:SWEEP:TYPE LINEAR",
		"SENSE1:SWEEP:POINTS 201",
		"SENSE1:BANDWIDTH 5000",
		"SENSE1:FREQUENCY:START 3000000000",
		"SENSE1:FREQUENCY:STOP 5000000000",
		"SOURCE1:POWER1 -5DBM",
	}
	assert.Equal(t, want, tr.Sent())
	assert.Equal(t, s, a.Settings())
}

func TestFire(t *testing.T) {
	a, tr := connected(t, map[string]string{
		"*OPC?":                 "+1",
		"CALCULATE:DATA? SDATA": "1,2,3,4",
	})

	require.NoError(t, a.Initialize(instrument.Settings{NumPoints: 2, Measure: []string{"S22", "S11", "S22"}}))
	tr.Reset()

	out, err := a.Fire()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"S11": "1,2,3,4", "S22": "1,2,3,4"}, out)

	assert.Equal(t, []string{
		"INIT:IMM",
		"*OPC?",
		"CALCULATE1:PARAMETER:SELECT 'parameter_S11'",
		"CALCULATE:DATA? SDATA",
		"CALCULATE1:PARAMETER:SELECT 'parameter_S22'",
		"CALCULATE:DATA? SDATA",
	}, tr.Sent())
}

func TestFireCommandError(t *testing.T) {
	a, tr := connected(t, nil)
	require.NoError(t, a.SetParameter(instrument.ParamNumPoints, 3))
	a.settings.Measure = []string{"S21"}

	timeout := errors.New("i/o timeout")
	tr.FailOn["*OPC?"] = timeout

	_, err := a.Fire()
	var cmdErr *instrument.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "*OPC?", cmdErr.Command)
	assert.True(t, errors.Is(err, timeout))
}

func TestReadRanges(t *testing.T) {
	a, tr := connected(t, map[string]string{
		"SENSE1:SWEEP:POINTS? MIN":    "+1",
		"SENSE1:SWEEP:POINTS? MAX":    "+16001",
		"SENSE1:BANDWIDTH? MIN":       "+1.00000000000E+000",
		"SENSE1:BANDWIDTH? MAX":       "+4.00000000000E+004",
		"SENSE1:FREQUENCY:START? MIN": "+1.00000000000E+007",
		"SENSE1:FREQUENCY:START? MAX": "+4.00000000000E+010",
		"SENSE1:FREQUENCY:STOP? MIN":  "+1.00000000000E+007",
		"SENSE1:FREQUENCY:STOP? MAX":  "+4.00000000000E+010",
		"SOURCE1:POWER1? MIN":         "-2.70000000000E+001",
		"SOURCE1:POWER1? MAX":         "+2.00000000000E+001",
	})

	ranges, err := a.ReadRanges()
	require.NoError(t, err)

	assert.Equal(t, instrument.Range{Min: 1, Max: 16001}, ranges[instrument.ParamNumPoints])
	assert.Equal(t, instrument.Range{Min: 1, Max: 40000}, ranges[instrument.ParamIFBandwidth])
	assert.Equal(t, instrument.Range{Min: 1e7, Max: 4e10}, ranges[instrument.ParamFreqStart])
	assert.Equal(t, instrument.Range{Min: 1e7, Max: 4e10}, ranges[instrument.ParamFreqStop])
	assert.Equal(t, instrument.Range{Min: -27, Max: 20}, ranges[instrument.ParamPower])
	assert.Equal(t, "SYSTEM:FPRESET", tr.Sent()[0])
}

func TestReadRangesMalformedReply(t *testing.T) {
	a, _ := connected(t, map[string]string{"SENSE1:SWEEP:POINTS? MIN": "garbage"})

	_, err := a.ReadRanges()
	var cmdErr *instrument.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "SENSE1:SWEEP:POINTS? MIN", cmdErr.Command)
}

func TestSetParameter(t *testing.T) {
	a, tr := connected(t, nil)

	// Staged until initialized.
	require.NoError(t, a.SetParameter(instrument.ParamPower, 3))
	assert.Empty(t, tr.Sent())
	assert.Equal(t, 3.0, a.Settings().Power)

	require.NoError(t, a.Initialize(a.Settings()))
	tr.Reset()

	require.NoError(t, a.SetParameter(instrument.ParamFreqStop, 6e9))
	assert.Equal(t, []string{"SENSE1:FREQUENCY:STOP 6000000000"}, tr.Sent())

	assert.Error(t, a.SetParameter("averaging", 1))
}

func TestConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	a := New(WithDialer(func(context.Context, string) (instrument.Transport, error) {
		return nil, dialErr
	}))

	err := a.Connect(context.Background(), "10.0.0.1")
	var connErr *instrument.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.True(t, errors.Is(err, dialErr))

	_, err = a.Fire()
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestClose(t *testing.T) {
	a, tr := connected(t, nil)

	require.NoError(t, a.Close())
	assert.Equal(t, []string{"*RST"}, tr.Sent())
	assert.True(t, tr.Closed())
	require.NoError(t, a.Close())
}
