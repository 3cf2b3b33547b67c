package catalog

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrofind/hydrofind/task"
)

func newMockAdapter(t *testing.T) (*Adapter, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db := sqlx.NewDb(mockDB, "sqlmock")
	adapter := NewAdapter(db, DefaultConfig(), nil)
	t.Cleanup(func() { adapter.Close() })
	return adapter, mock
}

func TestSearch_ReturnsMatches(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	q, ok := Build(task.TypeFittings, map[string]any{"standard": "BSP"}, "Фитинг BSP", DefaultLimit)
	require.True(t, ok)

	rows := sqlmock.NewRows([]string{"name", "article", "s_key"}).
		AddRow("Фитинг BSP 3/4 прямой", "F-BSP-34", "22").
		AddRow("Фитинг BSP 3/4 угловой", "F-BSP-34-90", "22")
	mock.ExpectQuery(regexp.QuoteMeta(q.SQL)).
		WithArgs(1, "%Фитинг%", "%Фитинг%", "%Фитинг%", "%BSP%", "%BSP%", "%BSP%").
		WillReturnRows(rows)

	matches, err := adapter.Search(context.Background(), task.TypeFittings,
		map[string]any{"standard": "BSP"}, "Фитинг BSP")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "F-BSP-34", matches[0].Article)
	assert.Equal(t, "22", matches[0].SKey)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_OutOfSetTypeIsEmptyNotError(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	matches, err := adapter.Search(context.Background(), task.TypeUnknown, nil, "q")
	require.NoError(t, err)
	assert.Empty(t, matches)

	// No query was issued.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearch_NullSKey(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	rows := sqlmock.NewRows([]string{"name", "article", "s_key"}).
		AddRow("БРС-20", "BRS-20", nil)
	mock.ExpectQuery("SELECT name, article").WillReturnRows(rows)

	matches, err := adapter.Search(context.Background(), task.TypeBRS, nil, "БРС")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Empty(t, matches[0].SKey)
}

func TestSearch_NoRows(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT name, article").
		WillReturnRows(sqlmock.NewRows([]string{"name", "article", "s_key"}))

	matches, err := adapter.Search(context.Background(), task.TypeCoupling, nil, "муфта")
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestSearch_QueryErrorPropagates(t *testing.T) {
	adapter, mock := newMockAdapter(t)

	mock.ExpectQuery("SELECT name, article").
		WillReturnError(errors.New("connection reset"))

	_, err := adapter.Search(context.Background(), task.TypeFittings, nil, "фитинг")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalog search")
}
