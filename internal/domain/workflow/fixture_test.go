package workflow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	appctx "spendchain/internal/core/context"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/audit"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/workflow"
	"spendchain/internal/infrastructure/locking"
	"spendchain/internal/infrastructure/storage/memory"
	"spendchain/pkg/logger"
	"spendchain/pkg/numerator"
)

const exercice = 2026

var (
	agent     = &appctx.UserContext{UserID: "agent", Profiles: []string{"agent"}}
	cb        = &appctx.UserContext{UserID: "cb", Profiles: []string{"controleur_budgetaire"}, Roles: []string{workflow.RoleCB}}
	saf       = &appctx.UserContext{UserID: "saf", Profiles: []string{"service_liquidateur"}, Roles: []string{workflow.RoleSAF}}
	daf       = &appctx.UserContext{UserID: "daf", Profiles: []string{"directeur"}, Roles: []string{workflow.RoleDAF}}
	dg        = &appctx.UserContext{UserID: "dg", Profiles: []string{"directeur_general"}, Roles: []string{workflow.RoleDG}}
	tresorier = &appctx.UserContext{UserID: "tresorier", Profiles: []string{"tresorier"}}
)

// fakeNotifier records every intent it receives.
type fakeNotifier struct {
	mu        sync.Mutex
	ready     []workflow.Stage
	signature []string
	rejected  []string
	err       error
}

func (n *fakeNotifier) StageReady(_ context.Context, stage workflow.Stage, _ *workflow.Record) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, stage)
	return n.err
}

func (n *fakeNotifier) SignatureRequested(_ context.Context, _ *workflow.Record, role string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signature = append(n.signature, role)
	return n.err
}

func (n *fakeNotifier) Rejected(_ context.Context, _ *workflow.Record, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rejected = append(n.rejected, reason)
	return n.err
}

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Service
	audit    *audit.Log
	notifier *fakeNotifier
	machine  *workflow.Machine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	log := logger.Nop()
	f := &fixture{
		store:    store,
		ledger:   ledger.NewService(store.Ledger(), log),
		audit:    audit.NewLog(store.Audit(), log),
		notifier: &fakeNotifier{},
	}
	f.machine = workflow.NewMachine(workflow.MachineDeps{
		Records:   store.Records(),
		Ledger:    f.ledger,
		Audit:     f.audit,
		Notifier:  f.notifier,
		Numerator: numerator.NewMemory(),
		TxManager: store.TxManager(),
		Locker:    locking.NewLocal(),
		Logger:    log,
	})
	return f
}

func (f *fixture) line(t *testing.T, dotation types.Amount) id.ID {
	t.Helper()
	l := &ledger.BudgetLine{Code: "L-" + id.New().String()[:8], Exercice: exercice, DotationInitiale: dotation}
	require.NoError(t, f.ledger.CreateLine(context.Background(), l))
	return l.ID
}

// submitted creates a record on lineID and submits it as the agent.
func (f *fixture) submitted(t *testing.T, stage workflow.Stage, lineID id.ID, montant types.Amount) *workflow.Record {
	t.Helper()
	return f.submittedDraft(t, stage, workflow.Draft{
		Exercice:     exercice,
		Objet:        "achat de fournitures",
		Montant:      montant,
		BudgetLineID: &lineID,
	})
}

func (f *fixture) submittedDraft(t *testing.T, stage workflow.Stage, d workflow.Draft) *workflow.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := f.machine.Create(ctx, stage, d, agent)
	require.NoError(t, err)
	_, err = f.machine.Submit(ctx, stage, rec.ID, agent)
	require.NoError(t, err)
	return rec
}

func (f *fixture) apply(stage workflow.Stage, recordID id.ID, action workflow.Action, actor *appctx.UserContext, p workflow.Payload) (*workflow.Result, error) {
	return f.machine.Apply(context.Background(), workflow.Command{
		Stage:    stage,
		EntityID: recordID,
		Action:   action,
		Actor:    actor,
		Payload:  p,
	})
}

func (f *fixture) validate(stage workflow.Stage, recordID id.ID, actor *appctx.UserContext) (*workflow.Result, error) {
	return f.apply(stage, recordID, workflow.ActionValidate, actor, workflow.Payload{})
}

func (f *fixture) get(t *testing.T, stage workflow.Stage, recordID id.ID) *workflow.Record {
	t.Helper()
	rec, err := f.machine.Get(context.Background(), stage, recordID)
	require.NoError(t, err)
	return rec
}

func (f *fixture) history(t *testing.T, stage workflow.Stage, recordID id.ID) []audit.Entry {
	t.Helper()
	entries, err := f.audit.History(context.Background(), stage.Key(), recordID, 100)
	require.NoError(t, err)
	return entries
}
