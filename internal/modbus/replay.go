package modbus

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadCSV reads recorded values: a header of sensor ids, then one row per
// step. Empty cells are skipped.
func LoadCSV(path string) ([]map[string]float64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, errors.New("csv must contain header and at least one data row")
	}

	header := records[0]
	rows := make([]map[string]float64, 0, len(records)-1)
	for n, record := range records[1:] {
		if len(record) != len(header) {
			return nil, fmt.Errorf("csv row %d: length mismatch", n+1)
		}
		row := make(map[string]float64, len(header))
		for i, key := range header {
			valStr := strings.TrimSpace(record[i])
			if valStr == "" {
				continue
			}
			val, err := strconv.ParseFloat(valStr, 64)
			if err != nil {
				return nil, fmt.Errorf("csv row %d: invalid value for column %s: %w", n+1, key, err)
			}
			row[strings.TrimSpace(key)] = val
		}
		rows = append(rows, row)
	}
	return rows, nil
}
