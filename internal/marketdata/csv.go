// Package marketdata loads OHLCV candle history from CSV files.
package marketdata

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skarlet-lab/mtfa/pkg/logger"
	"github.com/skarlet-lab/mtfa/pkg/models"
)

// ErrEmptyFile means the CSV produced no usable candles.
var ErrEmptyFile = errors.New("marketdata: no candles parsed from file")

// LoadCSV reads candles from a file with columns
// timestamp,open,high,low,close,volume. The timestamp is unix seconds
// or milliseconds; a header row is skipped; malformed rows are dropped
// with a count. The result is sorted by timestamp with duplicate
// timestamps deduplicated keeping the last occurrence.
func LoadCSV(path, symbol string, tf models.Timeframe) ([]models.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(bufio.NewReader(file))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var candles []models.Candle
	line, skipped := 0, 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil || len(rec) < 6 {
			skipped++
			continue
		}

		tsField := strings.TrimPrefix(strings.TrimSpace(rec[0]), "\uFEFF")
		if line == 1 && !isNumeric(tsField) {
			continue // header
		}

		c, err := parseRow(rec, tsField, symbol, tf)
		if err != nil {
			skipped++
			continue
		}
		candles = append(candles, c)
	}

	if skipped > 0 {
		logger.Warn("dropped malformed CSV rows",
			zap.String("file", path), zap.Int("rows", skipped))
	}
	if len(candles) == 0 {
		return nil, ErrEmptyFile
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	out := candles[:0]
	for _, c := range candles {
		if len(out) > 0 && out[len(out)-1].Timestamp.Equal(c.Timestamp) {
			out[len(out)-1] = c
			continue
		}
		out = append(out, c)
	}

	logger.Info("loaded candles",
		zap.String("file", path),
		zap.String("symbol", symbol),
		zap.String("timeframe", string(tf)),
		zap.Int("count", len(out)))
	return out, nil
}

func parseRow(rec []string, tsField, symbol string, tf models.Timeframe) (models.Candle, error) {
	ts, err := strconv.ParseInt(tsField, 10, 64)
	if err != nil {
		return models.Candle{}, err
	}
	// Milliseconds when the value is too large for seconds.
	var t time.Time
	if ts > 1e12 {
		t = time.UnixMilli(ts).UTC()
	} else {
		t = time.Unix(ts, 0).UTC()
	}

	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return models.Candle{}, err
		}
		vals[i] = v
	}

	return models.NewCandle(t, vals[0], vals[1], vals[2], vals[3], vals[4], symbol, tf)
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}
