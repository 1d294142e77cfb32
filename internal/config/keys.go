package config

import (
	"fmt"
	"strconv"
)

// Keys lists every dotted configuration key in display order.
func Keys() []string {
	return []string{
		"experiment.users",
		"experiment.items",
		"experiment.top_k",
		"experiment.steps",
		"experiment.trials",
		"experiment.seed",
		"experiment.max_conversions",
		"experiment.max_steps",
		"experiment.exponents.stage1",
		"experiment.exponents.stage2",
		"experiment.exponents.stage3",
		"experiment.lambda",
		"experiment.decay",
		"experiment.parallelism",
		"data.source",
		"data.dir",
		"data.allow_sparse",
		"output.results_dir",
		"output.format",
		"output.store",
		"output.record_steps",
		"output.metrics_file",
		"logging.level",
	}
}

// Get retrieves a configuration value by dot-notation key.
func (c *Config) Get(key string) (interface{}, bool) {
	switch key {
	case "experiment.users":
		return c.Experiment.Users, true
	case "experiment.items":
		return c.Experiment.Items, true
	case "experiment.top_k":
		return c.Experiment.TopK, true
	case "experiment.steps":
		return c.Experiment.Steps, true
	case "experiment.trials":
		return c.Experiment.Trials, true
	case "experiment.seed":
		return c.Experiment.Seed, true
	case "experiment.max_conversions":
		return c.Experiment.MaxConversions, true
	case "experiment.max_steps":
		return c.Experiment.MaxSteps, true
	case "experiment.exponents.stage1":
		return c.Experiment.Exponents.Stage1, true
	case "experiment.exponents.stage2":
		return c.Experiment.Exponents.Stage2, true
	case "experiment.exponents.stage3":
		return c.Experiment.Exponents.Stage3, true
	case "experiment.lambda":
		return c.Experiment.Lambda, true
	case "experiment.decay":
		return c.Experiment.DecayEnabled, true
	case "experiment.parallelism":
		return c.Experiment.Parallelism, true
	case "data.source":
		return c.Data.Source, true
	case "data.dir":
		return c.Data.Dir, true
	case "data.allow_sparse":
		return c.Data.AllowSparse, true
	case "output.results_dir":
		return c.Output.ResultsDir, true
	case "output.format":
		return c.Output.Format, true
	case "output.store":
		return c.Output.Store, true
	case "output.record_steps":
		return c.Output.RecordSteps, true
	case "output.metrics_file":
		return c.Output.MetricsFile, true
	case "logging.level":
		return c.Logging.Level, true
	default:
		return nil, false
	}
}

// Set parses value and stores it under a dot-notation key. Range checks are
// left to Validate.
func (c *Config) Set(key, value string) error {
	var err error
	switch key {
	case "experiment.users":
		c.Experiment.Users, err = parseInt(value)
	case "experiment.items":
		c.Experiment.Items, err = parseInt(value)
	case "experiment.top_k":
		c.Experiment.TopK, err = parseInt(value)
	case "experiment.steps":
		c.Experiment.Steps, err = parseInt(value)
	case "experiment.trials":
		c.Experiment.Trials, err = parseInt(value)
	case "experiment.seed":
		c.Experiment.Seed, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid integer: %s", value)
		}
	case "experiment.max_conversions":
		c.Experiment.MaxConversions, err = parseInt(value)
	case "experiment.max_steps":
		c.Experiment.MaxSteps, err = parseInt(value)
	case "experiment.exponents.stage1":
		c.Experiment.Exponents.Stage1, err = parseFloat(value)
	case "experiment.exponents.stage2":
		c.Experiment.Exponents.Stage2, err = parseFloat(value)
	case "experiment.exponents.stage3":
		c.Experiment.Exponents.Stage3, err = parseFloat(value)
	case "experiment.lambda":
		c.Experiment.Lambda, err = parseFloat(value)
	case "experiment.decay":
		c.Experiment.DecayEnabled, err = parseBool(value)
	case "experiment.parallelism":
		c.Experiment.Parallelism, err = parseInt(value)
	case "data.source":
		c.Data.Source = value
	case "data.dir":
		c.Data.Dir = value
	case "data.allow_sparse":
		c.Data.AllowSparse, err = parseBool(value)
	case "output.results_dir":
		c.Output.ResultsDir = value
	case "output.format":
		c.Output.Format = value
	case "output.store":
		c.Output.Store, err = parseBool(value)
	case "output.record_steps":
		c.Output.RecordSteps, err = parseBool(value)
	case "output.metrics_file":
		c.Output.MetricsFile = value
	case "logging.level":
		c.Logging.Level = value
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return err
}

func parseInt(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %s", value)
	}
	return n, nil
}

func parseFloat(value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number: %s", value)
	}
	return f, nil
}

func parseBool(value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid boolean: %s", value)
	}
	return b, nil
}

// FormatValue renders a value returned by Get the way Set accepts it.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
