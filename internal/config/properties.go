package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/magiconair/properties"
)

// Keys of the legacy .properties format.
const (
	propSamplingInterval = "sampling.interval"
	propOutputFile       = "output.file"
	propOutputAppend     = "output.file.append"
	propMetrics          = "metrics"
)

// DefaultOutputFile is the CSV file written by a .properties configuration
// that does not name one.
const DefaultOutputFile = "databot.csv"

// applyProperties maps a .properties document onto cfg: the sampling
// interval in seconds, one CSV consumer, and a list of local metrics
// separated by commas or spaces.
func applyProperties(data []byte, cfg *Config) error {
	p, err := properties.Load(data, properties.UTF8)
	if err != nil {
		return fmt.Errorf("failure while reading configuration: %w", err)
	}

	if s, ok := p.Get(propSamplingInterval); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid sampling interval value: %q", s)
		}
		cfg.Collection.Interval = Duration{time.Duration(n) * time.Second}
	}

	out := ConsumerConfig{Type: ConsumerCSV, Path: DefaultOutputFile}
	if s, ok := p.Get(propOutputFile); ok {
		out.Path = strings.TrimSpace(s)
	}
	if s, ok := p.Get(propOutputAppend); ok {
		var appendMode bool
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes":
			appendMode = true
		case "false", "no":
			appendMode = false
		default:
			return fmt.Errorf("invalid '%s' boolean value: %q", propOutputAppend, s)
		}
		out.Append = &appendMode
	}
	cfg.Consumers = []ConsumerConfig{out}

	if s, ok := p.Get(propMetrics); ok {
		fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		metrics := make([]MetricConfig, 0, len(fields))
		for _, f := range fields {
			m, err := ParseMetric(f)
			if err != nil {
				return err
			}
			metrics = append(metrics, m)
		}
		cfg.Metrics = metrics
	}
	return nil
}
