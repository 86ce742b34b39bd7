package session

import (
	"fmt"
	"time"

	"hgu-gateway/internal/model"
)

// toFloat widens any native numeric value to float64.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case bool:
		return boolToFloat(x), nil
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case uint8:
		return x != 0, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return false, err
		}
		return f != 0, nil
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// decodeSample turns a notification for def into a sample.
func decodeSample(def model.SensorDefinition, n Notification, now time.Time) (model.SensorSample, error) {
	var v float64
	if def.Digital {
		b, err := toBool(n.Value)
		if err != nil {
			return model.SensorSample{}, err
		}
		v = boolToFloat(b)
	} else {
		f, err := toFloat(n.Value)
		if err != nil {
			return model.SensorSample{}, err
		}
		v = f
	}

	q := model.QualityGood
	if !n.Good {
		q = model.QualityBad
	} else if !def.InRange(v) {
		q = model.QualityUncertain
	}

	ts := n.Timestamp
	if ts.IsZero() {
		ts = now
	}
	return model.SensorSample{
		ID:        def.ID,
		Name:      def.Name,
		Value:     v,
		Unit:      def.Unit,
		Quality:   q,
		Timestamp: ts,
	}, nil
}
