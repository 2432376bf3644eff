package timeline

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow-admin/internal/shared/model"
)

// abcConfig A、B 无依赖，C 依赖 A 和 B，均在仪器类型 X 上，时长 5
func abcConfig() *model.WorkflowConfig {
	return &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {InstrumentType: "X", Duration: 5, Action: "a"},
			"B": {InstrumentType: "X", Duration: 5, Action: "b"},
			"C": {InstrumentType: "X", Duration: 5, Action: "c", Dependencies: []string{"A", "B"}},
		},
		Instruments: map[string]model.Instrument{"x1": {Type: "X", Capacity: 1}},
	}
}

// randomDAG 生成随机无环配置：任务 i 只依赖编号更小的任务
func randomDAG(r *rand.Rand, n int) *model.WorkflowConfig {
	cfg := &model.WorkflowConfig{
		Tasks: make(map[string]model.TaskSpec, n),
		Instruments: map[string]model.Instrument{
			"i0": {Type: "T0"}, "i1": {Type: "T1"}, "i2": {Type: "T2"},
		},
	}
	for i := 0; i < n; i++ {
		var deps []string
		for j := 0; j < i; j++ {
			if r.Intn(4) == 0 {
				deps = append(deps, fmt.Sprintf("t%03d", j))
			}
		}
		cfg.Tasks[fmt.Sprintf("t%03d", i)] = model.TaskSpec{
			InstrumentType: fmt.Sprintf("T%d", r.Intn(3)),
			Duration:       float64(r.Intn(20)),
			Dependencies:   deps,
			Action:         "step",
		}
	}
	return cfg
}

func TestCompile_Scenario(t *testing.T) {
	tl, err := Compile(abcConfig())
	require.NoError(t, err)

	a, _ := tl.Task("A")
	b, _ := tl.Task("B")
	c, _ := tl.Task("C")

	assert.Equal(t, 0.0, a.Start)
	assert.Equal(t, 5.0, a.End)
	assert.Equal(t, 0.0, b.Start)
	assert.Equal(t, 5.0, b.End)
	assert.Equal(t, 5.0, c.Start)
	assert.Equal(t, 10.0, c.End)
	assert.Equal(t, 10.0, tl.TotalDuration)

	require.Len(t, tl.Lanes, 1)
	assert.Equal(t, "X", tl.Lanes[0].InstrumentType)
	assert.Equal(t, []string{"A", "B", "C"}, tl.Lanes[0].TaskIDs)
	assert.Len(t, tl.Lanes[0].Tasks(), 3)
	assert.Empty(t, tl.Unassigned)
	assert.Equal(t, "c (5s)", c.Description)
	assert.Equal(t, model.TaskKindAction, c.Kind)
}

func TestCompile_Deterministic(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 20; round++ {
		cfg := randomDAG(r, 30)

		first, err := Compile(cfg)
		require.NoError(t, err)
		second, err := Compile(cfg)
		require.NoError(t, err)

		require.Equal(t, len(first.Tasks), len(second.Tasks))
		for i := range first.Tasks {
			assert.Equal(t, first.Tasks[i].ID, second.Tasks[i].ID)
			assert.Equal(t, first.Tasks[i].Start, second.Tasks[i].Start)
			assert.Equal(t, first.Tasks[i].End, second.Tasks[i].End)
		}
		assert.Equal(t, first.TotalDuration, second.TotalDuration)
	}
}

func TestCompile_DependencyOrdering(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 20; round++ {
		tl, err := Compile(randomDAG(r, 40))
		require.NoError(t, err)

		for i := range tl.Tasks {
			task := &tl.Tasks[i]
			for _, depID := range task.Dependencies {
				dep, ok := tl.Task(depID)
				require.True(t, ok)
				assert.GreaterOrEqual(t, task.Start, dep.End, "任务 %s 早于依赖 %s 结束", task.ID, depID)
			}
		}
	}
}

func TestCompile_Makespan(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for round := 0; round < 10; round++ {
		tl, err := Compile(randomDAG(r, 25))
		require.NoError(t, err)

		maxEnd := 0.0
		for _, task := range tl.Tasks {
			if task.End > maxEnd {
				maxEnd = task.End
			}
		}
		assert.Equal(t, maxEnd, tl.TotalDuration)
	}
}

func TestCompile_Empty(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{},
		Instruments: map[string]model.Instrument{
			"x1": {Type: "X"},
			"y1": {Type: "Y"},
		},
	}

	tl, err := Compile(cfg)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tl.TotalDuration)
	assert.Empty(t, tl.Tasks)
	require.Len(t, tl.Lanes, 2)
	for _, lane := range tl.Lanes {
		assert.Empty(t, lane.TaskIDs)
	}

	tl, err = Compile(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tl.TotalDuration)
	assert.Empty(t, tl.Lanes)
}

func TestCompile_TwoTaskCycle(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {InstrumentType: "X", Duration: 1, Dependencies: []string{"B"}},
			"B": {InstrumentType: "X", Duration: 1, Dependencies: []string{"A"}},
		},
		Instruments: map[string]model.Instrument{"x1": {Type: "X"}},
	}

	tl, err := Compile(cfg)
	assert.Nil(t, tl)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCyclicDependency))

	var cycErr *CyclicDependencyError
	require.True(t, errors.As(err, &cycErr))
	assert.Contains(t, []string{"A", "B"}, cycErr.TaskID)
	assert.Equal(t, []string{"A", "B", "A"}, cycErr.Path)
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestCompile_SelfDependency(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {InstrumentType: "X", Duration: 1, Dependencies: []string{"A"}},
		},
	}

	_, err := Compile(cfg)
	var cycErr *CyclicDependencyError
	require.True(t, errors.As(err, &cycErr))
	assert.Equal(t, "A", cycErr.TaskID)
	assert.Equal(t, []string{"A", "A"}, cycErr.Path)
}

func TestCompile_LongCycleBehindChain(t *testing.T) {
	// 入口任务通过一条长链连到环上
	cfg := &model.WorkflowConfig{Tasks: map[string]model.TaskSpec{}}
	for i := 0; i < 50; i++ {
		cfg.Tasks[fmt.Sprintf("c%02d", i)] = model.TaskSpec{Duration: 1, Dependencies: []string{fmt.Sprintf("c%02d", i+1)}}
	}
	cfg.Tasks["c50"] = model.TaskSpec{Duration: 1, Dependencies: []string{"z1"}}
	cfg.Tasks["z1"] = model.TaskSpec{Duration: 1, Dependencies: []string{"z2"}}
	cfg.Tasks["z2"] = model.TaskSpec{Duration: 1, Dependencies: []string{"z1"}}

	_, err := Compile(cfg)
	var cycErr *CyclicDependencyError
	require.True(t, errors.As(err, &cycErr))
	assert.Equal(t, []string{"z1", "z2", "z1"}, cycErr.Path)
}

func TestCompile_DeepChainNoRecursionLimit(t *testing.T) {
	cfg := &model.WorkflowConfig{Tasks: map[string]model.TaskSpec{}}
	const n = 20000
	for i := 0; i < n; i++ {
		// t00000 依赖 t00001 ... 从第一个根开始即是最深的链
		spec := model.TaskSpec{Duration: 1}
		if i < n-1 {
			spec.Dependencies = []string{fmt.Sprintf("t%05d", i+1)}
		}
		cfg.Tasks[fmt.Sprintf("t%05d", i)] = spec
	}

	tl, err := Compile(cfg)
	require.NoError(t, err)
	assert.Equal(t, float64(n), tl.TotalDuration)
}

func TestCompile_MissingDependency(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {InstrumentType: "X", Duration: 3},
			"B": {InstrumentType: "X", Duration: 2, Dependencies: []string{"ghost", "A"}},
			"C": {InstrumentType: "X", Duration: 4, Dependencies: []string{"ghost"}},
		},
		Instruments: map[string]model.Instrument{"x1": {Type: "X"}},
	}

	tl, err := Compile(cfg)
	require.NoError(t, err)

	b, _ := tl.Task("B")
	c, _ := tl.Task("C")
	assert.Equal(t, 3.0, b.Start)
	assert.Equal(t, 0.0, c.Start, "缺失依赖的贡献应为 0")
	assert.Equal(t, 4.0, c.End)
	assert.Equal(t, map[string][]string{"B": {"ghost"}, "C": {"ghost"}}, tl.MissingDependencies)
}

func TestCompile_RepeatedMissingDependencyRecordedOnce(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {InstrumentType: "X", Duration: 2, Action: "a", Dependencies: []string{"Z", "Z"}},
		},
		Instruments: map[string]model.Instrument{"x1": {Type: "X"}},
	}

	tl, err := Compile(cfg)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"A": {"Z"}}, tl.MissingDependencies)
	require.Len(t, tl.Warnings, 1)
	assert.Equal(t, "Z", tl.Warnings[0].Ref)
}

func TestCompile_UnknownInstrumentType(t *testing.T) {
	cfg := abcConfig()
	cfg.Tasks["D"] = model.TaskSpec{InstrumentType: "ghost", Duration: 2, Action: "d", Dependencies: []string{"C"}}

	tl, err := Compile(cfg)
	require.NoError(t, err)

	d, ok := tl.Task("D")
	require.True(t, ok, "未声明类型的任务仍需计算时间")
	assert.Equal(t, 10.0, d.Start)
	assert.Equal(t, 12.0, tl.TotalDuration)
	assert.Equal(t, []string{"D"}, tl.Unassigned)

	lane, ok := tl.Lane("X")
	require.True(t, ok)
	assert.NotContains(t, lane.TaskIDs, "D")

	_, ok = tl.Lane("ghost")
	assert.False(t, ok)
	require.NotEmpty(t, tl.Warnings)
}

func TestCompile_NegativeDurationTreatedAsZero(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"A": {Duration: -5},
			"B": {Duration: 2, Dependencies: []string{"A"}},
		},
	}
	tl, err := Compile(cfg)
	require.NoError(t, err)

	a, _ := tl.Task("A")
	b, _ := tl.Task("B")
	assert.Equal(t, 0.0, a.End)
	assert.Equal(t, 0.0, b.Start)
	assert.Equal(t, 2.0, tl.TotalDuration)
}

func TestCompile_LanesPerDeclaredType(t *testing.T) {
	cfg := &model.WorkflowConfig{
		Tasks: map[string]model.TaskSpec{
			"pick":     {InstrumentType: "arm", Duration: 2, LabwareID: "plate", DestinationSlot: "1"},
			"transfer": {InstrumentType: "liquid", Duration: 10, Action: "transfer", Dependencies: []string{"pick"}},
			"drop":     {InstrumentType: "arm", Duration: 2, LabwareID: "plate", DestinationTask: "read", Dependencies: []string{"transfer"}},
		},
		Instruments: map[string]model.Instrument{
			"pf400": {Type: "arm"},
			"ot2_a": {Type: "liquid"},
			"ot2_b": {Type: "liquid"},
		},
	}

	tl, err := Compile(cfg)
	require.NoError(t, err)
	require.Len(t, tl.Lanes, 2)

	arm, _ := tl.Lane("arm")
	assert.Equal(t, []string{"drop", "pick"}, arm.TaskIDs)
	liquid, _ := tl.Lane("liquid")
	assert.Equal(t, []string{"transfer"}, liquid.TaskIDs)

	drop, _ := tl.Task("drop")
	assert.Equal(t, model.TaskKindDropoff, drop.Kind)
	assert.Equal(t, 12.0, drop.Start)
	assert.Equal(t, 14.0, tl.TotalDuration)
}
