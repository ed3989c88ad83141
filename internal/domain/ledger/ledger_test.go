package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/transfer"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/storage/memory"
	"spendchain/pkg/logger"
)

const exercice = 2026

type fixture struct {
	store  *memory.Store
	ledger *ledger.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	return &fixture{store: store, ledger: ledger.NewService(store.Ledger(), logger.Nop())}
}

func (f *fixture) line(t *testing.T, dotation types.Amount) *ledger.BudgetLine {
	t.Helper()
	l := &ledger.BudgetLine{Code: "L-" + id.New().String()[:8], Exercice: exercice, DotationInitiale: dotation}
	require.NoError(t, f.ledger.CreateLine(context.Background(), l))
	return l
}

func (f *fixture) record(t *testing.T, stage workflow.Stage, lineID id.ID, montant types.Amount, statut workflow.Statut) *workflow.Record {
	t.Helper()
	now := time.Now().UTC()
	rec := &workflow.Record{
		ID:           id.New(),
		Stage:        stage,
		Numero:       id.New().String(),
		Exercice:     exercice,
		Objet:        "test",
		Montant:      montant,
		BudgetLineID: &lineID,
		Statut:       statut,
		RequestedBy:  "tester",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.Records().Create(context.Background(), rec))
	return rec
}

func (f *fixture) transfer(t *testing.T, from, to id.ID, amount types.Amount, status transfer.Status) {
	t.Helper()
	require.NoError(t, f.store.Transfers().Create(context.Background(), &transfer.CreditTransfer{
		ID:               id.New(),
		Numero:           id.New().String(),
		Exercice:         exercice,
		FromBudgetLineID: from,
		ToBudgetLineID:   to,
		Amount:           amount,
		Status:           status,
		Motif:            "test",
		RequestedBy:      "tester",
	}))
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name           string
		dotation       types.Amount
		totals         ledger.Totals
		wantActuelle   types.Amount
		wantDisponible types.Amount
		wantTaux       string
	}{
		{
			name:           "Untouched",
			dotation:       1_000_000,
			wantActuelle:   1_000_000,
			wantDisponible: 1_000_000,
			wantTaux:       "0",
		},
		{
			name:     "TransfersEngagementsAndReservations",
			dotation: 1_000_000,
			totals: ledger.Totals{
				VirementsRecus: 200_000,
				VirementsEmis:  100_000,
				TotalEngage:    400_000,
				TotalReserve:   300_000,
			},
			wantActuelle:   1_100_000,
			wantDisponible: 400_000,
			wantTaux:       "36.36",
		},
		{
			name:           "ZeroDotation",
			dotation:       0,
			totals:         ledger.Totals{VirementsRecus: 0},
			wantActuelle:   0,
			wantDisponible: 0,
			wantTaux:       "0",
		},
		{
			name:           "FullyEngaged",
			dotation:       500_000,
			totals:         ledger.Totals{TotalEngage: 500_000},
			wantActuelle:   500_000,
			wantDisponible: 0,
			wantTaux:       "100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := ledger.Compute(&ledger.BudgetLine{ID: id.New(), DotationInitiale: tt.dotation}, tt.totals)
			assert.Equal(t, tt.wantActuelle, a.DotationActuelle)
			assert.Equal(t, tt.wantDisponible, a.Disponible)
			assert.True(t, decimal.RequireFromString(tt.wantTaux).Equal(a.TauxEngagement),
				"taux %s, want %s", a.TauxEngagement, tt.wantTaux)
		})
	}
}

func TestCanCommit_InsufficientBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := f.line(t, 1_000_000)
	f.record(t, workflow.StageEngagement, line.ID, 700_000, workflow.StatutValide)

	check, err := f.ledger.CanCommit(ctx, line.ID, 400_000, exercice)
	require.NoError(t, err)

	assert.False(t, check.OK)
	assert.Equal(t, types.Amount(300_000), check.Disponible)
	assert.Equal(t, types.Amount(400_000), check.Demande)
	assert.Equal(t, types.Amount(100_000), check.Ecart)
	assert.Contains(t, check.Message, "disponible 300000, demandé 400000, écart 100000")

	err = check.Err()
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeBudgetInsufficient, appErr.Code)
	assert.Equal(t, 422, appErr.HTTPStatus)
	assert.Equal(t, int64(300_000), appErr.Details["disponible"])
	assert.Equal(t, int64(400_000), appErr.Details["demandé"])
	assert.Equal(t, int64(100_000), appErr.Details["écart"])
}

func TestCanCommit_LogsRefusalThroughServiceLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	store := memory.New()
	svc := ledger.NewService(store.Ledger(), &logger.Logger{SugaredLogger: zap.New(core).Sugar()})
	f := &fixture{store: store, ledger: svc}
	ctx := context.Background()

	line := f.line(t, 100_000)
	check, err := svc.CanCommit(ctx, line.ID, 150_000, exercice)
	require.NoError(t, err)
	require.False(t, check.OK)

	refused := logs.FilterMessage("commit refused").All()
	require.Len(t, refused, 1)
	fields := refused[0].ContextMap()
	assert.Equal(t, "ledger", fields["component"])
	assert.Contains(t, fields, "ecart")
}

func TestCanCommit_ExactFitPasses(t *testing.T) {
	f := newFixture(t)
	line := f.line(t, 1_000_000)
	f.record(t, workflow.StageEngagement, line.ID, 700_000, workflow.StatutValide)

	check, err := f.ledger.CanCommit(context.Background(), line.ID, 300_000, exercice)
	require.NoError(t, err)
	assert.True(t, check.OK)
	assert.NoError(t, check.Err())
}

func TestCanCommit_ExcludesRecordUnderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := f.line(t, 1_000_000)
	pending := f.record(t, workflow.StageEngagement, line.ID, 600_000, workflow.StatutSoumis)

	a, err := f.ledger.Availability(ctx, line.ID, exercice)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(600_000), a.TotalReserve)
	assert.Equal(t, types.Amount(400_000), a.Disponible)

	check, err := f.ledger.CanCommit(ctx, line.ID, 600_000, exercice, ledger.ExcludeRecord(pending.ID))
	require.NoError(t, err)
	assert.True(t, check.OK)
	assert.Equal(t, types.Amount(1_000_000), check.Disponible)
}

func TestAvailability_CountsOnlyApprovedTransfers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.line(t, 1_000_000)
	dst := f.line(t, 100_000)

	f.transfer(t, src.ID, dst.ID, 250_000, transfer.StatusApprouve)
	f.transfer(t, src.ID, dst.ID, 50_000, transfer.StatusEnAttente)
	f.transfer(t, src.ID, dst.ID, 70_000, transfer.StatusRejete)

	a, err := f.ledger.Availability(ctx, src.ID, exercice)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(250_000), a.VirementsEmis)
	assert.Equal(t, types.Amount(750_000), a.DotationActuelle)

	b, err := f.ledger.Availability(ctx, dst.ID, exercice)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(250_000), b.VirementsRecus)
	assert.Equal(t, types.Amount(350_000), b.DotationActuelle)
}

func TestAvailability_IgnoresRejectedAndDeferredEngagements(t *testing.T) {
	f := newFixture(t)
	line := f.line(t, 1_000_000)
	f.record(t, workflow.StageEngagement, line.ID, 100_000, workflow.StatutRejete)
	f.record(t, workflow.StageEngagement, line.ID, 200_000, workflow.StatutDiffere)
	f.record(t, workflow.StageEngagement, line.ID, 300_000, workflow.StatutBrouillon)
	f.record(t, workflow.StageEngagement, line.ID, 150_000, workflow.StatutValide)

	a, err := f.ledger.Availability(context.Background(), line.ID, exercice)
	require.NoError(t, err)
	assert.Equal(t, types.Amount(150_000), a.TotalEngage)
	assert.Equal(t, types.Amount(300_000), a.TotalReserve)
	assert.Equal(t, types.Amount(550_000), a.Disponible)
	assert.True(t, decimal.RequireFromString("15").Equal(a.TauxEngagement))
}

func TestCanCommit_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := f.line(t, 1_000_000)

	_, err := f.ledger.CanCommit(ctx, line.ID, -1, exercice)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	_, err = f.ledger.CanCommit(ctx, line.ID, 10, exercice+1)
	assert.True(t, apperror.IsNotFound(err), "line of another exercice")

	_, err = f.ledger.CanCommit(ctx, id.New(), 10, exercice)
	assert.True(t, apperror.IsNotFound(err))
}

func TestCheckLiquidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := f.line(t, 1_000_000)
	eng := f.record(t, workflow.StageEngagement, line.ID, 500_000, workflow.StatutValide)

	liq := f.record(t, workflow.StageLiquidation, line.ID, 300_000, workflow.StatutValide)
	liq.EngagementID = &eng.ID
	require.NoError(t, f.store.Records().Update(ctx, liq))

	check, err := f.ledger.CheckLiquidation(ctx, eng.ID, eng.Montant, 250_000, id.Nil())
	require.NoError(t, err)
	assert.False(t, check.OK)
	assert.Equal(t, types.Amount(300_000), check.DejaLiquide)
	assert.Equal(t, types.Amount(200_000), check.Restant)
	assert.True(t, apperror.HasCode(check.Err(), apperror.CodeLiquidationExceeds))

	check, err = f.ledger.CheckLiquidation(ctx, eng.ID, eng.Montant, 200_000, id.Nil())
	require.NoError(t, err)
	assert.True(t, check.OK)

	// The liquidation being re-validated does not count against itself.
	check, err = f.ledger.CheckLiquidation(ctx, eng.ID, eng.Montant, 500_000, liq.ID)
	require.NoError(t, err)
	assert.True(t, check.OK)
}

func TestRefresh_UpdatesDisplayCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := f.line(t, 1_000_000)
	other := f.line(t, 0)
	f.transfer(t, line.ID, other.ID, 100_000, transfer.StatusApprouve)
	f.record(t, workflow.StageEngagement, line.ID, 400_000, workflow.StatutValide)

	_, err := f.ledger.Refresh(ctx, line.ID, exercice)
	require.NoError(t, err)

	stored, err := f.ledger.Line(ctx, line.ID, exercice)
	require.NoError(t, err)
	require.NotNil(t, stored.DotationModifiee)
	assert.Equal(t, types.Amount(900_000), *stored.DotationModifiee)
	assert.Equal(t, types.Amount(400_000), stored.TotalEngage)
}

func TestCreateLine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.ledger.CreateLine(ctx, &ledger.BudgetLine{Exercice: exercice, DotationInitiale: 10})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "missing code")

	err = f.ledger.CreateLine(ctx, &ledger.BudgetLine{Code: "X", Exercice: exercice, DotationInitiale: -5})
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "negative dotation")

	require.NoError(t, f.ledger.CreateLine(ctx, &ledger.BudgetLine{Code: "DUP", Exercice: exercice}))
	err = f.ledger.CreateLine(ctx, &ledger.BudgetLine{Code: "DUP", Exercice: exercice})
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicate))
}
