package catalog

import "github.com/hydrofind/hydrofind/task"

// schema describes how one component table is searched: which columns the
// enumerated filters target, which boolean flags exist, and whether the
// table carries a nominal diameter or a wrench-key column.
type schema struct {
	table string

	// Enum filters. A filter with several candidate columns matches any of
	// them: an adapter's standard may sit on either end.
	standardCols []string
	threadCols   []string
	armatureCols []string
	angleCols    []string
	seriesCols   []string

	boolCols []string
	hasDy    bool
	hasSKey  bool
}

// schemas mirrors the catalog tables. The banjo-bolt table shares the
// banjo shape; the catalog keeps them separate because the article series
// do not overlap.
var schemas = map[task.ComponentType]schema{
	task.TypeFittings: {
		table:        "fittings",
		standardCols: []string{"standard_id"},
		threadCols:   []string{"thread_id"},
		armatureCols: []string{"armature_id"},
		angleCols:    []string{"angle_id"},
		seriesCols:   []string{"seria_id"},
		boolCols:     []string{"usit", "o_ring"},
		hasDy:        true,
		hasSKey:      true,
	},
	task.TypeAdapters: {
		table:        "adapters",
		standardCols: []string{"standard_1_id", "standard_2_id"},
		threadCols:   []string{"thread_1_id", "thread_2_id"},
		armatureCols: []string{"armature_1_id", "armature_2_id"},
		angleCols:    []string{"angle_id"},
		boolCols:     []string{"counter_nut"},
		hasSKey:      true,
	},
	task.TypePlugs: {
		table:        "plugs",
		standardCols: []string{"standard_id"},
		threadCols:   []string{"thread_id"},
		armatureCols: []string{"armature_id"},
		hasSKey:      true,
	},
	task.TypeAdapterTee: {
		table:        "adapter_tees",
		standardCols: []string{"standard_1_id", "standard_2_id", "standard_3_id"},
		threadCols:   []string{"thread_1_id", "thread_2_id", "thread_3_id"},
		armatureCols: []string{"armature_1_id", "armature_2_id", "armature_3_id"},
		hasSKey:      true,
	},
	task.TypeBanjo: {
		table:        "banjo",
		standardCols: []string{"standard_id"},
		threadCols:   []string{"thread_id"},
		seriesCols:   []string{"seria_id"},
		hasDy:        true,
	},
	task.TypeBanjoBolt: {
		table:        "banjo_bolts",
		standardCols: []string{"standard_id"},
		threadCols:   []string{"thread_id"},
		seriesCols:   []string{"seria_id"},
		hasDy:        true,
	},
	task.TypeBRS: {
		table:        "brs",
		standardCols: []string{"standard_id"},
		boolCols:     []string{"locknut"},
	},
	task.TypeCoupling: {
		table:        "couplings",
		standardCols: []string{"standard_id"},
		threadCols:   []string{"thread_id"},
		hasDy:        true,
	},
}
