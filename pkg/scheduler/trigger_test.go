package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baluhost/baluhost/pkg/errdefs"
)

func TestParseTriggerInterval(t *testing.T) {
	trig, err := ParseTrigger("interval:30m")
	require.NoError(t, err)

	now := time.Now()
	assert.Equal(t, now.Add(30*time.Minute), trig.Next(now))
}

func TestParseTriggerCron(t *testing.T) {
	trig, err := ParseTrigger("cron:0 3 * * 0")
	require.NoError(t, err)

	// Wednesday noon rolls forward to the next Sunday 03:00.
	wed := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 8, 3, 0, 0, 0, time.UTC), trig.Next(wed))
}

func TestParseTriggerDaily(t *testing.T) {
	trig, err := ParseTrigger("daily:03:00")
	require.NoError(t, err)

	before := time.Date(2025, 6, 4, 2, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2025, 6, 4, 3, 0, 0, 0, time.Local), trig.Next(before))

	// At or past the wall-clock time the fire moves to tomorrow.
	at := time.Date(2025, 6, 4, 3, 0, 0, 0, time.Local)
	assert.Equal(t, time.Date(2025, 6, 5, 3, 0, 0, 0, time.Local), trig.Next(at))

	after := time.Date(2025, 6, 4, 4, 30, 0, 0, time.Local)
	assert.Equal(t, time.Date(2025, 6, 5, 3, 0, 0, 0, time.Local), trig.Next(after))
}

func TestParseTriggerRejectsBadSpecs(t *testing.T) {
	for _, spec := range []string{
		"",
		"interval",
		"interval:0s",
		"interval:-5m",
		"interval:soon",
		"cron:not a cron line",
		"daily:0300",
		"daily:24:00",
		"daily:12:60",
		"daily:aa:bb",
		"pause:10s",
	} {
		_, err := ParseTrigger(spec)
		assert.Equal(t, errdefs.KindInvalidArg, errdefs.KindOf(err), "spec %q", spec)
	}
}
