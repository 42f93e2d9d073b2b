package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingReceiver struct {
	alerts []Alert
}

func (r *recordingReceiver) SendAlert(alert Alert) error {
	r.alerts = append(r.alerts, alert)
	return nil
}

func TestAlertManager(t *testing.T) {
	t.Run("触发后直到恢复只告警一次", func(t *testing.T) {
		am := NewAlertManager(zap.NewNop())
		rec := &recordingReceiver{}
		am.AddReceiver(rec)

		lastErr := "list messages: timeout"
		am.AddRule(PollingDegradedRule(func() string { return lastErr }))

		am.CheckRules(context.Background())
		am.CheckRules(context.Background())
		require.Len(t, rec.alerts, 1)
		assert.Equal(t, "polling_degraded", rec.alerts[0].RuleID)
		assert.Equal(t, lastErr, rec.alerts[0].Message)
		assert.Len(t, am.ActiveAlerts(), 1)

		lastErr = ""
		am.CheckRules(context.Background())
		assert.Empty(t, am.ActiveAlerts())
	})

	t.Run("冷却时间内不重复告警", func(t *testing.T) {
		am := NewAlertManager(zap.NewNop())
		now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
		am.now = func() time.Time { return now }
		rec := &recordingReceiver{}
		am.AddReceiver(rec)

		failing := true
		am.AddRule(StorageRule(func(context.Context) error {
			if failing {
				return errors.New("disk full")
			}
			return nil
		}))

		am.CheckRules(context.Background())
		failing = false
		am.CheckRules(context.Background())
		failing = true
		now = now.Add(30 * time.Second)
		am.CheckRules(context.Background())
		assert.Len(t, rec.alerts, 1)

		failing = false
		am.CheckRules(context.Background())
		failing = true
		now = now.Add(time.Minute)
		am.CheckRules(context.Background())
		require.Len(t, rec.alerts, 2)
		assert.Equal(t, AlertLevelCritical, rec.alerts[1].Level)
		assert.Equal(t, "disk full", rec.alerts[1].Message)
	})
}

func TestLogAlertReceiver(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := NewLogAlertReceiver(zap.New(core))

	require.NoError(t, r.SendAlert(Alert{RuleID: "storage_unavailable", Level: AlertLevelCritical}))
	require.NoError(t, r.SendAlert(Alert{RuleID: "polling_degraded", Level: AlertLevelWarning}))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestHighMemoryUsageRule(t *testing.T) {
	rule := HighMemoryUsageRule(1 << 20)
	assert.Empty(t, rule.Condition(context.Background()))
}
