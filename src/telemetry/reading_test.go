package telemetry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_FullReport(t *testing.T) {
	raw := []byte(`{
		"Total Voltage": 13.2,
		"Current": "-2.5",
		"Residual Capacity": 80.0,
		"Residual Capacity J": 3801600.0,
		"Nominal Capacity": 100.0,
		"Nominal Capacity J": 4752000.0,
		"Cycle Life": 12,
		"Product Date": "2023-05-01",
		"Protection Status": 0,
		"RSOC": 0.8,
		"Temperature": 295.15,
		"Cell Voltages": []
	}`)

	r, err := Parse(raw)
	require.NoError(t, err)

	require.NotNil(t, r.TotalVoltage)
	assert.Equal(t, 13.2, *r.TotalVoltage)
	require.NotNil(t, r.Current)
	assert.Equal(t, -2.5, *r.Current)
	assert.Equal(t, 3801600.0, *r.ResidualCapacity)
	assert.Equal(t, 4752000.0, *r.NominalCapacity)
	assert.Equal(t, 12.0, *r.CycleLife)
	assert.Equal(t, 0.0, *r.ProtectionStatus)
	assert.Equal(t, 0.8, *r.RSOC)
	assert.Equal(t, 295.15, *r.Temperature)
}

func TestParse_MissingFieldsAreAbsent(t *testing.T) {
	r, err := Parse([]byte(`{"Total Voltage":13.2,"RSOC":87}`))
	require.NoError(t, err)

	assert.Equal(t, 13.2, *r.TotalVoltage)
	assert.Equal(t, 87.0, *r.RSOC)
	assert.Nil(t, r.NominalCapacity)
	assert.Nil(t, r.ResidualCapacity)
	assert.Nil(t, r.Current)
	assert.Nil(t, r.CycleLife)
	assert.Nil(t, r.Temperature)
	assert.Nil(t, r.ProtectionStatus)
}

func TestParse_NullAndNoneAreAbsent(t *testing.T) {
	r, err := Parse([]byte(`{"Temperature":null,"Current":"None"}`))
	require.NoError(t, err)
	assert.Nil(t, r.Temperature)
	assert.Nil(t, r.Current)
}

func TestParse_EmptyObject(t *testing.T) {
	r, err := Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, Reading{}, r)
}

func TestParse_Malformed(t *testing.T) {
	inputs := []string{
		"not json",
		"",
		"[1,2,3]",
		"null",
		`{"Total Voltage":`,
		`"a string"`,
	}

	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse([]byte(in))
			require.Error(t, err)

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, in, decodeErr.Raw)
		})
	}
}

func TestParse_WrongShapeForKnownField(t *testing.T) {
	_, err := Parse([]byte(`{"Total Voltage":"high"}`))
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Error(), "Total Voltage")

	_, err = Parse([]byte(`{"RSOC":[87]}`))
	require.ErrorAs(t, err, &decodeErr)
}
