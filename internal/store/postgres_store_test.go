package store

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
)

func TestPostgresSQL_SortKeyComparesBytewise(t *testing.T) {
	table := pgx.Identifier{"events"}.Sanitize()

	assert.Contains(t, schemaDDL(table), `sort_key      text        COLLATE "C" NOT NULL`)
	assert.Contains(t, windowSQL(table), `sort_key COLLATE "C" >= $2`)
	assert.Contains(t, windowSQL(table), `ORDER BY sort_key COLLATE "C"`)
}
