package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrofind/hydrofind/task"
)

func TestBuild_UnknownType(t *testing.T) {
	_, ok := Build(task.TypeUnknown, nil, "", 10)
	assert.False(t, ok)

	_, ok = Build(task.ComponentType("hose"), nil, "", 10)
	assert.False(t, ok)
}

func TestBuild_Fittings_AllFilters(t *testing.T) {
	params := map[string]any{
		"standard": "BSP",
		"thread":   "3/4",
		"armature": "гайка",
		"angle":    float64(90),
		"seria":    "легкая",
		"usit":     "yes",
		"o_ring":   false,
		"Dy":       float64(10),
	}

	q, ok := Build(task.TypeFittings, params, "", 0)
	require.True(t, ok)
	assert.Equal(t,
		`SELECT name, article, s_key FROM fittings WHERE standard_id = ? AND thread_id = ? AND armature_id = ? AND angle_id = ? AND seria_id = ? AND usit = ? AND o_ring = ? AND "Dy" = ? LIMIT 10`,
		q.SQL)
	assert.Equal(t, []any{1, 2, 1, 90, 1, true, false, 10}, q.Args)
}

func TestBuild_NoFilters(t *testing.T) {
	q, ok := Build(task.TypeCoupling, nil, "", 0)
	require.True(t, ok)
	assert.Equal(t, `SELECT name, article, '' AS s_key FROM couplings LIMIT 10`, q.SQL)
	assert.Empty(t, q.Args)
}

func TestBuild_UnknownEnumValueSkipsFilter(t *testing.T) {
	q, ok := Build(task.TypeFittings, map[string]any{"standard": "GOST-9999"}, "", 0)
	require.True(t, ok)
	assert.NotContains(t, q.SQL, "standard_id")
	assert.Empty(t, q.Args)
}

func TestBuild_EnumCaseInsensitive(t *testing.T) {
	q, ok := Build(task.TypeFittings, map[string]any{"standard": "  dkol "}, "", 0)
	require.True(t, ok)
	assert.Contains(t, q.SQL, "standard_id = ?")
	assert.Equal(t, []any{4}, q.Args)
}

func TestBuild_Adapters_EitherEndMatches(t *testing.T) {
	q, ok := Build(task.TypeAdapters, map[string]any{"standard": "JIC"}, "", 0)
	require.True(t, ok)
	assert.Contains(t, q.SQL, "(standard_1_id = ? OR standard_2_id = ?)")
	assert.Equal(t, []any{3, 3}, q.Args)
}

func TestBuild_AdapterTee_ThreeWay(t *testing.T) {
	q, ok := Build(task.TypeAdapterTee, map[string]any{"armature": "штуцер"}, "", 0)
	require.True(t, ok)
	assert.Contains(t, q.SQL, "(armature_1_id = ? OR armature_2_id = ? OR armature_3_id = ?)")
	assert.Equal(t, []any{2, 2, 2}, q.Args)
}

func TestBuild_SchemaWithoutFieldSkipsIt(t *testing.T) {
	// couplings carry no angle, bools, or seria.
	params := map[string]any{
		"angle":  float64(90),
		"usit":   true,
		"seria":  "тяжелая",
		"thread": "1",
	}
	q, ok := Build(task.TypeCoupling, params, "", 0)
	require.True(t, ok)
	assert.Equal(t, `SELECT name, article, '' AS s_key FROM couplings WHERE thread_id = ? LIMIT 10`, q.SQL)
	assert.Equal(t, []any{1}, q.Args)
}

func TestBuild_NullBoolSkipped(t *testing.T) {
	q, ok := Build(task.TypeFittings, map[string]any{"usit": nil}, "", 0)
	require.True(t, ok)
	assert.NotContains(t, q.SQL, "usit")
}

func TestBuild_TextSearch(t *testing.T) {
	q, ok := Build(task.TypeFittings, nil, "Фитинг BSP", 0)
	require.True(t, ok)
	assert.Contains(t, q.SQL,
		"(article ILIKE ? OR name ILIKE ? OR s_key ILIKE ? OR article ILIKE ? OR name ILIKE ? OR s_key ILIKE ?)")
	assert.Equal(t, []any{
		"%Фитинг%", "%Фитинг%", "%Фитинг%",
		"%BSP%", "%BSP%", "%BSP%",
	}, q.Args)
}

func TestBuild_TextSearchWithoutSKey(t *testing.T) {
	q, ok := Build(task.TypeBRS, nil, "БРС", 0)
	require.True(t, ok)
	assert.Contains(t, q.SQL, "(article ILIKE ? OR name ILIKE ?)")
	assert.NotContains(t, q.SQL, "s_key ILIKE")
}

func TestBuild_LimitOverride(t *testing.T) {
	q, ok := Build(task.TypeFittings, nil, "", 3)
	require.True(t, ok)
	assert.Contains(t, q.SQL, "LIMIT 3")
}

func TestToBool(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{true, true},
		{false, false},
		{"true", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{"Y", true},
		{float64(1), true},
		{"false", false},
		{"0", false},
		{"нет", false},
		{"maybe", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toBool(tt.in), "input %v", tt.in)
	}
}

func TestToInt(t *testing.T) {
	n, ok := toInt(float64(12))
	require.True(t, ok)
	assert.Equal(t, 12, n)

	n, ok = toInt("16")
	require.True(t, ok)
	assert.Equal(t, 16, n)

	_, ok = toInt(12.5)
	assert.False(t, ok)

	_, ok = toInt("ten")
	assert.False(t, ok)
}
