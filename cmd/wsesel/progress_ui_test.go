package main

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/wsesel/internal/domain"
)

func TestProgressUI_WarnsOnMissingCompanion(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := newProgressUI(log)

	lv := 2
	p.OnItemDone("2019", domain.ItemResult{Identity: "D", Matched: true, Level: &lv, Selected: "D_02_wse.tif", Companion: domain.CompanionMissing})
	p.OnItemDone("2019", domain.ItemResult{Identity: "C", Matched: true, Level: &lv, Selected: "C_02_wse.tif", Companion: domain.CompanionFound})

	var warns []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warns = append(warns, e)
		}
	}
	require.Len(t, warns, 1)
	assert.Equal(t, "D_02_wse.tif", warns[0].Data["selected"])
	assert.Equal(t, "02", warns[0].Data["level"])
}

func TestProgressUI_LogsSelectionAtInfo(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.InfoLevel)
	p := newProgressUI(log)

	lv := 3
	p.OnItemDone("2019", domain.ItemResult{
		Identity:   "A",
		Matched:    true,
		Level:      &lv,
		Selected:   "A_03_wse.tif",
		Candidates: []domain.Candidate{{Name: "A_01_wse.tif"}, {Name: "A_03_wse.tif"}},
		Companion:  domain.CompanionFound,
		Superseded: []string{"out/2019/A_01_wse.tif"},
	})

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, logrus.InfoLevel, e.Level)
	assert.Equal(t, "选择", e.Message)
	assert.Equal(t, "2019", e.Data["subfolder"])
	assert.Equal(t, "A", e.Data["identity"])
	assert.Equal(t, "03", e.Data["level"])
	assert.Equal(t, "A_03_wse.tif", e.Data["selected"])
	assert.Equal(t, 2, e.Data["candidates"])
	assert.Equal(t, 1, e.Data["superseded"])
}

func TestProgressUI_SubfolderDoneStopsTicker(t *testing.T) {
	log, hook := test.NewNullLogger()
	p := newProgressUI(log)

	p.OnPhaseDone("discover", map[string]any{"subfolders": 1, "workers": 1}, time.Millisecond)
	require.True(t, p.tickerStarted)

	p.OnSubfolderDone(1, 1, domain.SubfolderResult{Subfolder: "2019", Status: domain.StatusFailed, ErrorCode: domain.ErrCodeIOFailed, ErrorMsg: "boom"}, time.Second)
	assert.False(t, p.tickerStarted)
	assert.Equal(t, 1, p.failed)

	last := hook.LastEntry()
	require.NotNil(t, last)
	assert.Equal(t, logrus.ErrorLevel, last.Level)
	assert.Equal(t, domain.ErrCodeIOFailed, last.Data["error_code"])

	// 重复 Close 是安全的。
	p.Close()
	p.Close()
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "-", formatLevel(nil))
	assert.Equal(t, "off", formatProxy(""))
	assert.Equal(t, "on (http://127.0.0.1:8080, auth=on)", formatProxy("http://u:p@127.0.0.1:8080"))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "01:01:05", formatElapsed(time.Hour+time.Minute+5*time.Second))
	assert.Equal(t, 3, intField(map[string]any{"n": 3}, "n"))
	assert.Equal(t, 0, intField(nil, "n"))
}
