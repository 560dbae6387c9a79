package trident

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(hook *test.Hook) []string {
	var out []string
	for _, e := range hook.AllEntries() {
		out = append(out, e.Message)
	}
	return out
}

func TestDetectThreats(t *testing.T) {
	hooks, err := NewHooks()
	require.NoError(t, err)

	testCases := []struct {
		name       string
		settings   map[string]interface{}
		missingKey string
	}{
		{name: "必需键齐全", settings: map[string]interface{}{"security_level": "high", "firewall_enabled": true}},
		{name: "值为false也算存在", settings: map[string]interface{}{"security_level": "low", "firewall_enabled": false}},
		{name: "缺少security_level", settings: map[string]interface{}{"firewall_enabled": true}, missingKey: "security_level"},
		{name: "缺少firewall_enabled", settings: map[string]interface{}{"security_level": "high"}, missingKey: "firewall_enabled"},
		{name: "都缺少时报告第一个", settings: map[string]interface{}{"encryption": "AES256"}, missingKey: "security_level"},
		{name: "nil配置", settings: nil, missingKey: "security_level"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := hooks.DetectThreats(tc.settings)
			if tc.missingKey == "" {
				assert.NoError(t, err)
				return
			}
			var missing *MissingKeyError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tc.missingKey, missing.Key)
			assert.Equal(t, "missing required config key: "+tc.missingKey, err.Error())
		})
	}
}

func TestProtectSystem(t *testing.T) {
	hooks, err := NewHooks()
	require.NoError(t, err)
	logHook := test.NewGlobal()
	defer logHook.Reset()

	hooks.ProtectSystem(map[string]interface{}{"firewall_enabled": true})
	assert.Equal(t, []string{"Firewall is enabled.", "System protection measures applied."}, messages(logHook))

	logHook.Reset()
	hooks.ProtectSystem(map[string]interface{}{"firewall_enabled": false})
	require.NotEmpty(t, logHook.AllEntries())
	assert.Equal(t, logrus.WarnLevel, logHook.AllEntries()[0].Level)
	assert.Equal(t, "Firewall is disabled!", logHook.AllEntries()[0].Message)
}

func TestRespondToIncidents(t *testing.T) {
	hooks, err := NewHooks()
	require.NoError(t, err)
	logHook := test.NewGlobal()
	defer logHook.Reset()

	hooks.RespondToIncidents(map[string]interface{}{"security_level": "high"})
	assert.Contains(t, messages(logHook), "High security mode: automated alerts enabled.")

	logHook.Reset()
	hooks.RespondToIncidents(map[string]interface{}{"security_level": "medium"})
	assert.Contains(t, messages(logHook), "Standard incident response active.")
	assert.NotContains(t, messages(logHook), "High security mode: automated alerts enabled.")
}

func TestRunStopsOnMissingKey(t *testing.T) {
	hooks, err := NewHooks()
	require.NoError(t, err)
	logHook := test.NewGlobal()
	defer logHook.Reset()

	err = hooks.Run(map[string]interface{}{"firewall_enabled": true})
	assert.Error(t, err)
	assert.Empty(t, logHook.AllEntries(), "威胁检测失败后不执行后续检查")

	require.NoError(t, hooks.Run(map[string]interface{}{"security_level": "high", "firewall_enabled": true}))
	assert.Contains(t, messages(logHook), "Incident response executed.")
}
