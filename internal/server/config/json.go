package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/flagx"
	"github.com/dmitrijs2005/gatekeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "15m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. After unmarshalling, its fields are copied into the runtime Config
// struct which uses time.Duration.
type JsonConfig struct {
	EndpointAddr      string         `json:"endpoint_addr"`
	DatabaseDSN       string         `json:"database_dsn"`
	HandlerTimeout    timex.Duration `json:"handler_timeout"`
	ThrottlePerSecond float64        `json:"throttle_per_second"`
	ThrottleBurst     int            `json:"throttle_burst"`
	MaxConcurrent     int64          `json:"max_concurrent"`
	GlobalPerSecond   float64        `json:"global_per_second"`
	GlobalBurst       int            `json:"global_burst"`
	LockoutThreshold  int            `json:"lockout_threshold"`
	LockoutWindow     timex.Duration `json:"lockout_window"`
	PoolCapacity      int            `json:"pool_capacity"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The lookup order for the JSON file path is the -c or -config command-line
// flag; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	// Prefill the DTO from the current config so keys omitted from the
	// file keep their defaults instead of collapsing to zero values.
	c := &JsonConfig{
		EndpointAddr:      config.EndpointAddr,
		DatabaseDSN:       config.DatabaseDSN,
		HandlerTimeout:    timex.Duration{Duration: config.HandlerTimeout},
		ThrottlePerSecond: config.ThrottlePerSecond,
		ThrottleBurst:     config.ThrottleBurst,
		MaxConcurrent:     config.MaxConcurrent,
		GlobalPerSecond:   config.GlobalPerSecond,
		GlobalBurst:       config.GlobalBurst,
		LockoutThreshold:  config.LockoutThreshold,
		LockoutWindow:     timex.Duration{Duration: config.LockoutWindow},
		PoolCapacity:      config.PoolCapacity,
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.EndpointAddr = c.EndpointAddr
	config.DatabaseDSN = c.DatabaseDSN
	config.HandlerTimeout = time.Duration(c.HandlerTimeout.Duration)
	config.ThrottlePerSecond = c.ThrottlePerSecond
	config.ThrottleBurst = c.ThrottleBurst
	config.MaxConcurrent = c.MaxConcurrent
	config.GlobalPerSecond = c.GlobalPerSecond
	config.GlobalBurst = c.GlobalBurst
	config.LockoutThreshold = c.LockoutThreshold
	config.LockoutWindow = time.Duration(c.LockoutWindow.Duration)
	config.PoolCapacity = c.PoolCapacity
}
