package main

import (
	"bytes"
	"regexp"
	"strconv"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var summaryPattern = regexp.MustCompile(`ticks=(\d+) frames=(\d+) skipped=(\d+) registered=(\d+)`)

func parseSummary(t *testing.T, out string) (ticks, frames, skipped, registered int) {
	t.Helper()
	m := summaryPattern.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	values := make([]int, 4)
	for i := range values {
		v, err := strconv.Atoi(m[i+1])
		require.NoError(t, err)
		values[i] = v
	}
	return values[0], values[1], values[2], values[3]
}

func TestRun(t *testing.T) {
	for _, tc := range [...]struct {
		name string
		args []string
	}{
		{`serial`, []string{`--workers=0`, `--parallel=0`}},
		{`parallel`, []string{`--workers=3`, `--parallel=1`}},
		{`mixed`, []string{`--workers=2`, `--background-workers=1`}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			args := append([]string{`-n`, `200`, `-f`, `120`, `--jitter=0`, `--log-level=warning`}, tc.args...)
			require.Equal(t, 0, run(args, &stdout, &stderr), stderr.String())

			ticks, frames, skipped, registered := parseSummary(t, stdout.String())
			// 120 frames at the tick rate, with no jitter
			assert.Equal(t, 120, ticks)
			assert.Equal(t, 120, frames)
			assert.Zero(t, skipped)
			// every expired particle is replaced
			assert.Equal(t, 200, registered)
			assert.Contains(t, stdout.String(), `pool submitted=`)
		})
	}
}

func TestRun_PauseInactive(t *testing.T) {
	var stdout, stderr bytes.Buffer
	args := []string{`-n`, `50`, `-f`, `60`, `--jitter=0`, `--workers=1`, `--pause-inactive`, `--inactive-every=3`, `--log-level=err`}
	require.Equal(t, 0, run(args, &stdout, &stderr), stderr.String())

	ticks, frames, skipped, _ := parseSummary(t, stdout.String())
	assert.Equal(t, 60, frames)
	assert.Equal(t, 20, skipped)
	assert.Equal(t, 40, ticks)
}

func TestRun_Logging(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{`-n`, `10`, `-f`, `5`, `--workers=1`, `--log-level=info`}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `tickdemo: starting`)
	assert.Contains(t, stderr.String(), `tickdemo: finished`)
	assert.NotContains(t, stderr.String(), `scheduler: closed`)
}

func TestRun_InvalidFlags(t *testing.T) {
	for _, args := range [][]string{
		{`--objects=-1`},
		{`--frame-rate=0`},
		{`--jitter=1`},
		{`--parallel=2`},
		{`--log-level=loud`},
		{`--speed=-1`},
		{`--workers=1`, `extra`},
		{`--unknown`},
	} {
		t.Run(args[0], func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.NotEqual(t, 0, run(args, &stdout, &stderr))
			assert.Empty(t, stdout.String())
		})
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, run([]string{`--help`}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `--frame-rate`)
}

func TestParseLevel(t *testing.T) {
	for _, level := range []logiface.Level{
		logiface.LevelDisabled,
		logiface.LevelError,
		logiface.LevelWarning,
		logiface.LevelInformational,
		logiface.LevelDebug,
		logiface.LevelTrace,
	} {
		got, ok := parseLevel(level.String())
		assert.True(t, ok, level.String())
		assert.Equal(t, level, got)
	}
	_, ok := parseLevel(`verbose`)
	assert.False(t, ok)
}
