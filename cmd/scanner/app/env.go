package app

import (
	"os"

	"github.com/joho/godotenv"
)

const (
	EnvAnalyzerAddress = "EMSCAN_ANALYZER_ADDRESS"
	EnvSwitchAddress   = "EMSCAN_SWITCH_ADDRESS"
	EnvMotionPort      = "EMSCAN_MOTION_PORT"
	EnvLedger          = "EMSCAN_LEDGER"
	EnvMonitorListen   = "EMSCAN_MONITOR_LISTEN"
)

// applyEnv overrides hardware addresses from the environment or a .env file
// in the working directory. A missing .env file is not an error.
func applyEnv(c *Config) {
	_ = godotenv.Load()

	c.Analyzer.Address = getEnv(EnvAnalyzerAddress, c.Analyzer.Address)
	c.Switches.Address = getEnv(EnvSwitchAddress, c.Switches.Address)
	c.Motion.Port = getEnv(EnvMotionPort, c.Motion.Port)
	c.Storage.Ledger = getEnv(EnvLedger, c.Storage.Ledger)
	c.Monitor.Listen = getEnv(EnvMonitorListen, c.Monitor.Listen)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
