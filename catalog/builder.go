package catalog

import (
	"fmt"
	"strings"

	"github.com/hydrofind/hydrofind/task"
)

// DefaultLimit bounds a catalog search when the caller does not override it.
const DefaultLimit = 10

// Query is a parameterized statement ready for the adapter to rebind and
// run. Args line up with the ? placeholders in SQL; interpolating values
// into the text is forbidden.
type Query struct {
	SQL  string
	Args []any
}

// Build assembles the search statement for one component type. Unknown
// types yield ok=false: the adapter answers with an empty result rather
// than an error. Extracted attributes the schema does not carry, and enum
// values outside the reference tables, are skipped silently.
func Build(ct task.ComponentType, params map[string]any, originalQuery string, limit int) (Query, bool) {
	sch, ok := schemas[ct]
	if !ok {
		return Query{}, false
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	b := &builder{}

	b.enum(sch.standardCols, params["standard"], resolveStandard)
	b.enum(sch.threadCols, params["thread"], resolveThread)
	b.enum(sch.armatureCols, params["armature"], resolveArmature)
	b.enum(sch.angleCols, params["angle"], resolveAngle)
	b.enum(sch.seriesCols, params["seria"], resolveSeries)

	for _, col := range sch.boolCols {
		if v, ok := params[col]; ok && v != nil {
			b.where(col+" = ?", toBool(v))
		}
	}

	if sch.hasDy {
		if v, ok := params["Dy"]; ok && v != nil {
			if dy, ok := toInt(v); ok {
				b.where("\"Dy\" = ?", dy)
			}
		}
	}

	b.textSearch(originalQuery, sch.hasSKey)

	sKeyCol := "s_key"
	if !sch.hasSKey {
		sKeyCol = "'' AS s_key"
	}
	sql := fmt.Sprintf("SELECT name, article, %s FROM %s", sKeyCol, sch.table)
	if len(b.conds) > 0 {
		sql += " WHERE " + strings.Join(b.conds, " AND ")
	}
	sql += fmt.Sprintf(" LIMIT %d", limit)

	return Query{SQL: sql, Args: b.args}, true
}

type builder struct {
	conds []string
	args  []any
}

func (b *builder) where(cond string, args ...any) {
	b.conds = append(b.conds, cond)
	b.args = append(b.args, args...)
}

// enum applies one enumerated filter. With several candidate columns the
// value may match any of them.
func (b *builder) enum(cols []string, value any, resolve func(any) (int, bool)) {
	if len(cols) == 0 || value == nil {
		return
	}
	id, ok := resolve(value)
	if !ok {
		return
	}

	if len(cols) == 1 {
		b.where(cols[0]+" = ?", id)
		return
	}
	parts := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		parts[i] = col + " = ?"
		args[i] = id
	}
	b.where("("+strings.Join(parts, " OR ")+")", args...)
}

// textSearch ORs case-insensitive substring matches of every query token
// over article, name and, when present, s_key. Any token hitting any field
// keeps the row.
func (b *builder) textSearch(originalQuery string, hasSKey bool) {
	tokens := strings.Fields(originalQuery)
	if len(tokens) == 0 {
		return
	}

	var parts []string
	var args []any
	for _, token := range tokens {
		pattern := "%" + token + "%"
		fields := []string{"article", "name"}
		if hasSKey {
			fields = append(fields, "s_key")
		}
		for _, f := range fields {
			parts = append(parts, f+" ILIKE ?")
			args = append(args, pattern)
		}
	}
	b.where("("+strings.Join(parts, " OR ")+")", args...)
}
