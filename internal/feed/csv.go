package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"trades-signal/internal/market"
)

// LoadCSV 读取 timestamp,open,high,low,close[,volume] 格式的K线文件。
// timestamp 支持 RFC3339 或毫秒时间戳；首行若非数据则视为表头。
func LoadCSV(path, symbol string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: 打开 %s 失败: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, symbol)
}

// ReadCSV 从 reader 解析K线。
func ReadCSV(r io.Reader, symbol string) ([]market.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var bars []market.Bar
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("feed: 第 %d 行解析失败: %w", line, err)
		}
		if len(record) < 5 {
			return nil, fmt.Errorf("feed: 第 %d 行字段不足", line)
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("feed: 第 %d 行时间非法: %w", line, err)
		}

		values := make([]float64, 5)
		for i := 1; i < len(record) && i <= 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("feed: 第 %d 行第 %d 列非法: %w", line, i+1, err)
			}
			values[i-1] = v
		}
		bars = append(bars, market.Bar{
			Symbol:    symbol,
			Timestamp: ts,
			Open:      values[0],
			High:      values[1],
			Low:       values[2],
			Close:     values[3],
			Volume:    values[4],
		})
	}
	return bars, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
