package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/gatekeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   TCP bind address (e.g., ":9190")
//	-d string   PostgreSQL DSN
//	-t int      handler timeout, seconds
//	-l int      lockout threshold, consecutive failed logins
//	-w int      lockout window, minutes
//	-m int      max concurrent requests in flight
//	-p int      packet pool capacity per kind
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-t", "-l", "-w", "-m", "-p"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddr, "a", config.EndpointAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	handlerTimeout := fs.Int("t", int(config.HandlerTimeout.Seconds()), "handler_timeout (in seconds)")
	fs.IntVar(&config.LockoutThreshold, "l", config.LockoutThreshold, "lockout_threshold (failed logins)")
	lockoutWindow := fs.Int("w", int(config.LockoutWindow.Minutes()), "lockout_window (in minutes)")
	fs.Int64Var(&config.MaxConcurrent, "m", config.MaxConcurrent, "max concurrent requests")
	fs.IntVar(&config.PoolCapacity, "p", config.PoolCapacity, "packet pool capacity per kind")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.HandlerTimeout = time.Duration(*handlerTimeout) * time.Second
	config.LockoutWindow = time.Duration(*lockoutWindow) * time.Minute
}
