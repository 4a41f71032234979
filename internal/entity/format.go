package entity

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/narvanalabs/pve-monitor/internal/models"
)

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func bytesToMB(v float64) float64 {
	return round(v/(1024*1024), 2)
}

func bytesToGB(v float64) float64 {
	return round(v/(1024*1024*1024), 3)
}

// FormatUptime renders seconds as "Xd Yh MMm". Negative input counts as zero.
func FormatUptime(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	rem := seconds % 86400
	return fmt.Sprintf("%dd %dh %02dm", days, rem/3600, (rem%3600)/60)
}

// valueFunc extracts a sensor value from a status record. A nil result means
// the value is unknown.
type valueFunc func(models.Record) any

func percent(field string) valueFunc {
	return func(r models.Record) any {
		v, ok := r.Float(field)
		if !ok {
			return nil
		}
		return round(v*100, 2)
	}
}

func megabytes(field string) valueFunc {
	return func(r models.Record) any {
		v, ok := r.Float(field)
		if !ok {
			return nil
		}
		return bytesToMB(v)
	}
}

func nestedMegabytes(object, field string) valueFunc {
	return func(r models.Record) any {
		return megabytes(field)(r.Map(object))
	}
}

func nestedGigabytes(object, field string) valueFunc {
	return func(r models.Record) any {
		v, ok := r.Map(object).Float(field)
		if !ok {
			return nil
		}
		return bytesToGB(v)
	}
}

func uptime(field string) valueFunc {
	return func(r models.Record) any {
		v, ok := r.Int(field)
		if !ok {
			return nil
		}
		return FormatUptime(v)
	}
}

func text(field string) valueFunc {
	return func(r models.Record) any {
		v, ok := r.String(field)
		if !ok {
			return nil
		}
		return v
	}
}

// load1 reads the one minute load average, reported either as a list or as a
// space separated string.
func load1(r models.Record) any {
	switch la := r["loadavg"].(type) {
	case []any:
		if len(la) == 0 {
			return nil
		}
		return parseLoad(la[0])
	case []string:
		if len(la) == 0 {
			return nil
		}
		return parseLoad(la[0])
	case string:
		fields := strings.Fields(la)
		if len(fields) == 0 {
			return nil
		}
		return parseLoad(fields[0])
	default:
		return nil
	}
}

func parseLoad(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		return f
	default:
		return nil
	}
}
