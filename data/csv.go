package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"yield-engine/model"
)

// LoadCSV 读取 timestamp,source,key,value 格式的数据文件（RFC3339 时间戳，首行可为表头）。
func LoadCSV(path string) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", model.ErrDataUnavailable, path, err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV 从 reader 解析数据
func ReadCSV(r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	s := NewSeries()
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d: %v", model.ErrDataUnavailable, line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(row[0]), "timestamp") {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(row[0]))
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d timestamp: %v", model.ErrDataUnavailable, line, err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: csv line %d value: %v", model.ErrDataUnavailable, line, err)
		}
		s.Add(strings.TrimSpace(row[1]), strings.TrimSpace(row[2]), ts, v)
	}
	return s, nil
}
