package lineproto

import (
	"strconv"
	"strings"

	"hgu-gateway/internal/model"
)

// Encoder renders samples as InfluxDB line protocol with millisecond timestamps.
type Encoder struct {
	Measurement string
	Location    string
	Equipment   string
}

var (
	tagEscaper   = strings.NewReplacer(`\`, `\\`, " ", `\ `, ",", `\,`, "=", `\=`)
	fieldEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	// measurement names may contain '=' unescaped
	measurementEscaper = strings.NewReplacer(`\`, `\\`, " ", `\ `, ",", `\,`)
)

// EscapeTag backslash-escapes space, comma, equals and backslash.
func EscapeTag(s string) string { return tagEscaper.Replace(s) }

// EscapeFieldString backslash-escapes double quote and backslash.
func EscapeFieldString(s string) string { return fieldEscaper.Replace(s) }

// Sample encodes one line without a trailing newline.
func (e Encoder) Sample(s model.SensorSample) string {
	var b strings.Builder
	e.appendSample(&b, s)
	return b.String()
}

// Batch encodes samples newline-joined in the given order.
func (e Encoder) Batch(samples []model.SensorSample) string {
	var b strings.Builder
	b.Grow(len(samples) * 160)
	for i, s := range samples {
		if i > 0 {
			b.WriteByte('\n')
		}
		e.appendSample(&b, s)
	}
	return b.String()
}

func (e Encoder) appendSample(b *strings.Builder, s model.SensorSample) {
	b.WriteString(measurementEscaper.Replace(e.Measurement))
	writeTag(b, "sensor_id", s.ID)
	writeTag(b, "sensor_name", s.Name)
	writeTag(b, "location", e.Location)
	writeTag(b, "equipment", e.Equipment)
	if s.Unit != "" {
		writeTag(b, "unit", s.Unit)
	}

	b.WriteString(" value=")
	b.WriteString(strconv.FormatFloat(s.Value, 'f', 6, 64))
	b.WriteString(`,quality="`)
	b.WriteString(EscapeFieldString(string(s.Quality)))
	b.WriteByte('"')

	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(s.Timestamp.UnixMilli(), 10))
}

func writeTag(b *strings.Builder, key, value string) {
	b.WriteByte(',')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(EscapeTag(value))
}
