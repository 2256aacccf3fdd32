package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want string
	}{
		{"trace", "trace"},
		{"DEBUG", "debug"},
		{"info", "info"},
		{"warning", "warn"},
		{"error", "error"},
		{"crit", "crit"},
	} {
		lvl, err := ParseLevel(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, LevelString(lvl))
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestModuleFiltering(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, InitLoggerTo(&buf, "debug", false))

	Debug(Store, "hidden record")
	require.NotContains(t, buf.String(), "hidden record")

	EnableModule(Store)
	defer DisableModule(Store)
	Debug(Store, "visible record", "height", 7)
	require.Contains(t, buf.String(), "visible record")
	require.Contains(t, buf.String(), "module=store")

	Info(Ledger, "info always passes")
	require.Contains(t, buf.String(), "info always passes")
}

func TestEnableModules(t *testing.T) {
	EnableModules(" ledger, router ,")
	defer DisableModule(Ledger)
	defer DisableModule(Router)
	require.True(t, isModuleEnabled(Ledger))
	require.True(t, isModuleEnabled(Router))
	require.False(t, isModuleEnabled(Rollup))
}

func TestJSONLogger(t *testing.T) {
	prev := Root()
	defer SetDefault(prev)

	var buf bytes.Buffer
	require.NoError(t, InitJSONLogger(&buf, "info"))
	Info(Rollup, "input rejected", "class", "consensus")
	Debug(Rollup, "dropped")

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec))
	require.Equal(t, "input rejected", rec["msg"])
	require.Equal(t, "rollup", rec["module"])
	require.Equal(t, "consensus", rec["class"])
}
