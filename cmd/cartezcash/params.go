package main

import (
	"fmt"
	"strings"

	"github.com/colorfulnotion/cartezcash/ledger"
	"github.com/colorfulnotion/cartezcash/rollup"
	"github.com/colorfulnotion/cartezcash/router"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	envPrefix = "CARTEZCASH"
	// hostURLEnv is set by the rollup machine for its dApp.
	hostURLEnv = "ROLLUP_HTTP_SERVER_URL"
)

const (
	rollupURLKey     = "rollup-url"
	dataPathKey      = "data-path"
	rootWindowKey    = "root-window"
	verifyTimeoutKey = "verify-timeout"
	verifierURLKey   = "verifier-url"
	bridgeKey        = "bridge-address"
	logLevelKey      = "log-level"
	logFormatKey     = "log-format"
	debugKey         = "debug"
	telemetryKey     = "telemetry"
)

type config struct {
	Rollup      rollup.Config
	Ledger      ledger.Config
	Router      router.Config
	DataPath    string
	VerifierURL string
	LogLevel    string
	LogFormat   string
	Debug       string
	Telemetry   string
}

func addFlags(fs *pflag.FlagSet) {
	fs.String(rollupURLKey, rollup.DefaultConfig().URL, "Rollup host HTTP API")
	fs.StringP(dataPathKey, "d", "", "Block store directory (empty keeps blocks in memory)")
	fs.Int(rootWindowKey, ledger.DefaultConfig().RootWindow, "Number of recent commitment tree roots accepted as anchors")
	fs.Duration(verifyTimeoutKey, ledger.DefaultConfig().VerifyTimeout, "Verifier timeout per transaction")
	fs.String(verifierURLKey, "", "Remote verifier URL (empty verifies in process)")
	fs.String(bridgeKey, router.DefaultBridge.Hex(), "Host-chain contract receiving withdrawal vouchers")
	fs.String(logLevelKey, "info", "Log level (trace, debug, info, warn, error)")
	fs.String(logFormatKey, "terminal", "Log format (terminal, json)")
	fs.String(debugKey, "", "Comma separated modules to log at debug level")
	fs.String(telemetryKey, "", "OTLP HTTP trace collector endpoint (e.g., localhost:4318)")
}

// getViper binds fs and the CARTEZCASH_* environment.
func getViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(rollupURLKey, envPrefix+"_ROLLUP_URL", hostURLEnv); err != nil {
		return nil, err
	}
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (*config, error) {
	cfg := &config{
		Rollup:      rollup.DefaultConfig(),
		Ledger:      ledger.DefaultConfig(),
		Router:      router.DefaultConfig(),
		DataPath:    v.GetString(dataPathKey),
		VerifierURL: v.GetString(verifierURLKey),
		LogLevel:    v.GetString(logLevelKey),
		LogFormat:   v.GetString(logFormatKey),
		Debug:       v.GetString(debugKey),
		Telemetry:   v.GetString(telemetryKey),
	}
	cfg.Rollup.URL = v.GetString(rollupURLKey)
	cfg.Ledger.RootWindow = v.GetInt(rootWindowKey)
	cfg.Ledger.VerifyTimeout = v.GetDuration(verifyTimeoutKey)

	bridge := v.GetString(bridgeKey)
	if !common.IsHexAddress(bridge) {
		return nil, fmt.Errorf("invalid %s %q", bridgeKey, bridge)
	}
	cfg.Router.Bridge = common.HexToAddress(bridge)
	if cfg.Ledger.RootWindow <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", rootWindowKey, cfg.Ledger.RootWindow)
	}
	if cfg.Ledger.VerifyTimeout <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %s", verifyTimeoutKey, cfg.Ledger.VerifyTimeout)
	}
	if cfg.LogFormat != "terminal" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid %s %q", logFormatKey, cfg.LogFormat)
	}
	if cfg.Rollup.URL == "" {
		return nil, fmt.Errorf("%s is not set (flag, %s_ROLLUP_URL or %s)", rollupURLKey, envPrefix, hostURLEnv)
	}
	return cfg, nil
}
