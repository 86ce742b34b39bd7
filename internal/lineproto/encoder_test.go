package lineproto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"hgu-gateway/internal/model"
)

var enc = Encoder{Measurement: "hgu_sensors", Location: "PLCSIM", Equipment: "hgu_main"}

func TestSampleLine(t *testing.T) {
	s := model.SensorSample{
		ID:        "pressure_supply",
		Name:      "pressure_supply",
		Value:     12.345678,
		Unit:      "bar",
		Quality:   model.QualityGood,
		Timestamp: time.UnixMilli(1700000000000),
	}
	want := `hgu_sensors,sensor_id=pressure_supply,sensor_name=pressure_supply,location=PLCSIM,equipment=hgu_main,unit=bar value=12.345678,quality="good" 1700000000000`
	assert.Equal(t, want, enc.Sample(s))
}

func TestSampleWithoutUnitOmitsTag(t *testing.T) {
	s := model.SensorSample{ID: "pump_status", Name: "Pump", Value: 1, Quality: model.QualityUncertain, Timestamp: time.UnixMilli(5)}
	assert.Equal(t, `hgu_sensors,sensor_id=pump_status,sensor_name=Pump,location=PLCSIM,equipment=hgu_main value=1.000000,quality="uncertain" 5`, enc.Sample(s))
}

func TestTagEscaping(t *testing.T) {
	assert.Equal(t, `Supply\ Pressure\,\ main\=1\\x`, EscapeTag(`Supply Pressure, main=1\x`))

	s := model.SensorSample{ID: "a b", Name: "x,y=z", Unit: `L\min`, Quality: model.QualityGood, Timestamp: time.UnixMilli(1)}
	line := enc.Sample(s)
	assert.True(t, strings.HasPrefix(line, `hgu_sensors,sensor_id=a\ b,sensor_name=x\,y\=z,location=PLCSIM,equipment=hgu_main,unit=L\\min `), line)
}

func TestFieldStringEscaping(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, EscapeFieldString(`say "hi" \ bye`))
}

func TestBatchKeepsInsertionOrder(t *testing.T) {
	samples := []model.SensorSample{
		{ID: "b", Name: "b", Value: 2, Quality: model.QualityGood, Timestamp: time.UnixMilli(2)},
		{ID: "a", Name: "a", Value: 1, Quality: model.QualityGood, Timestamp: time.UnixMilli(1)},
	}
	lines := strings.Split(enc.Batch(samples), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "sensor_id=b")
	assert.Contains(t, lines[1], "sensor_id=a")
	assert.Equal(t, "", enc.Batch(nil))
}
