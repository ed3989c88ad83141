package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/workflow"
)

type stamped struct {
	CreatedAt time.Time `db:"created_at"`
}

type withEmbedded struct {
	stamped
	Code    string `db:"code"`
	Ignored string `db:"-"`
	NoTag   string
}

func TestColumns(t *testing.T) {
	assert.Equal(t, []string{"created_at", "code"}, Columns[withEmbedded]())

	cols := Columns[workflow.Record]()
	assert.Contains(t, cols, "numero")
	assert.Contains(t, cols, "current_step")
	assert.NotContains(t, cols, "-")
	assert.NotContains(t, cols, "steps")
}

func TestStructToMap(t *testing.T) {
	lineID := id.New()
	line := &ledger.BudgetLine{
		ID:               lineID,
		Code:             "60-01",
		Exercice:         2025,
		DotationInitiale: types.Amount(500000),
		Version:          3,
	}

	m := StructToMap(line)
	assert.Equal(t, lineID, m["id"])
	assert.Equal(t, "60-01", m["code"])
	assert.Equal(t, types.Amount(500000), m["dotation_initiale"])
	assert.Equal(t, 3, m["version"])

	only := StructToMap(line, "id", "code")
	assert.Len(t, only, 2)

	now := time.Now()
	emb := StructToMap(withEmbedded{stamped: stamped{CreatedAt: now}, Code: "X", Ignored: "y"})
	assert.Equal(t, map[string]any{"created_at": now, "code": "X"}, emb)
}
