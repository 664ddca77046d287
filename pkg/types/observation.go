package types

import "fmt"

// Number of settings and sensors in a C-MAPSS record.
const (
	NumSettings = 3
	NumSensors  = 21

	// NumColumns is the data width of one record: id, cycle, settings, sensors.
	NumColumns = 2 + NumSettings + NumSensors
)

// Identity column names.
const (
	ColumnID    = "id"
	ColumnCycle = "cycle"
)

var (
	// SettingColumns are the operational setting names in file order.
	SettingColumns = []string{"setting1", "setting2", "setting3"}

	// SensorColumns are the sensor names in file order (s1..s21).
	SensorColumns = sensorNames()
)

func sensorNames() []string {
	out := make([]string, NumSensors)
	for i := range out {
		out[i] = fmt.Sprintf("s%d", i+1)
	}
	return out
}

// Columns returns all data column names in file order.
func Columns() []string {
	out := make([]string, 0, NumColumns)
	out = append(out, ColumnID, ColumnCycle)
	out = append(out, SettingColumns...)
	out = append(out, SensorColumns...)
	return out
}

// MeasurementColumns returns the setting and sensor names, i.e. every column
// that is a model input in its raw form.
func MeasurementColumns() []string {
	out := make([]string, 0, NumSettings+NumSensors)
	out = append(out, SettingColumns...)
	out = append(out, SensorColumns...)
	return out
}

// Observation is one operating cycle of one engine.
type Observation struct {
	ID       int
	Cycle    int
	Settings [NumSettings]float64
	Sensors  [NumSensors]float64
}

// Value returns the named setting or sensor reading.
func (o Observation) Value(column string) (float64, bool) {
	for i, c := range SettingColumns {
		if c == column {
			return o.Settings[i], true
		}
	}
	if i := SensorIndex(column); i >= 0 {
		return o.Sensors[i], true
	}
	return 0, false
}

// Measurements returns settings followed by sensors, in MeasurementColumns order.
func (o Observation) Measurements() []float64 {
	out := make([]float64, 0, NumSettings+NumSensors)
	out = append(out, o.Settings[:]...)
	out = append(out, o.Sensors[:]...)
	return out
}

// SensorIndex returns the position of a sensor column, or -1 if name is not a sensor.
func SensorIndex(name string) int {
	for i, c := range SensorColumns {
		if c == name {
			return i
		}
	}
	return -1
}

// Labeled is an Observation with its remaining useful life and
// failure-within-window label attached.
type Labeled struct {
	Observation
	RUL   int
	Label int
}
