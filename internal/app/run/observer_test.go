package run

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/wsesel/internal/config"
	"github.com/John-Robertt/wsesel/internal/domain"
)

type recordObserver struct {
	mu sync.Mutex

	startCalls int
	phases     []string
	items      []string
	missing    []string
	doneIdx    []int
	total      int
}

func (o *recordObserver) OnStart(eff config.EffectiveConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.startCalls++
}

func (o *recordObserver) OnPhaseDone(name string, fields map[string]any, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phases = append(o.phases, name)
}

func (o *recordObserver) OnItemDone(subfolder string, res domain.ItemResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items = append(o.items, subfolder+"/"+res.Identity)
	if res.Companion == domain.CompanionMissing {
		o.missing = append(o.missing, res.Selected)
	}
}

func (o *recordObserver) OnSubfolderDone(idx, total int, res domain.SubfolderResult, dur time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.doneIdx = append(o.doneIdx, idx)
	o.total = total
}

func TestExecuteWithObserver_EmitsEvents(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "2019", "A_01_wse.tif"), "")
	touch(t, filepath.Join(root, "2019", "A_02_wse.tif"), "")
	touch(t, filepath.Join(root, "2019", "A_02_wse.tfw"), "")
	touch(t, filepath.Join(root, "2020", "D_02_wse.tif"), "")
	touch(t, filepath.Join(root, "2021", "E_01_wse.tif"), "")

	obs := &recordObserver{}
	_ = ExecuteWithObserver(context.Background(), effFor(root, false), obs)

	assert.Equal(t, 1, obs.startCalls)
	assert.Equal(t, []string{"discover"}, obs.phases)

	sort.Strings(obs.items)
	assert.Equal(t, []string{"2019/A", "2020/D", "2021/E"}, obs.items)

	// 缺失伴随文件的告警事件。
	sort.Strings(obs.missing)
	assert.Equal(t, []string{"D_02_wse.tif", "E_01_wse.tif"}, obs.missing)

	// 完成序号覆盖 1..total，各出现一次。
	require.Equal(t, 3, obs.total)
	sort.Ints(obs.doneIdx)
	assert.Equal(t, []int{1, 2, 3}, obs.doneIdx)
}

func TestExecute_NilObserver(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "2019", "A_01_wse.tif"), "")

	rr := ExecuteWithObserver(context.Background(), effFor(root, false), nil)
	assert.Equal(t, 1, rr.Summary.Groups)
}
