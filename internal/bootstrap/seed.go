package bootstrap

import (
	"context"
	"fmt"

	"spendchain/internal/core/apperror"
	"spendchain/internal/core/id"
	"spendchain/internal/core/types"
	"spendchain/internal/domain/ledger"
	"spendchain/internal/domain/workflow"
	"spendchain/pkg/logger"
)

// DemoActor is a seeded actor.
type DemoActor struct {
	Email       string
	DisplayName string
	Profiles    []string
	Roles       []string
}

// DemoActors covers every stage and every signature role.
var DemoActors = []DemoActor{
	{"chef.service@spendchain.local", "Chef de service", []string{"chef_service"}, nil},
	{"daf@spendchain.local", "Directeur administratif et financier", []string{"directeur", "budget_office"}, []string{workflow.RoleDAF}},
	{"dg@spendchain.local", "Directeur général", []string{"directeur_general"}, []string{workflow.RoleDG}},
	{"cb@spendchain.local", "Contrôleur budgétaire", []string{"controleur_budgetaire"}, []string{workflow.RoleCB}},
	{"saf@spendchain.local", "Service administratif et financier", []string{"service_liquidateur", "ordonnateur"}, []string{workflow.RoleSAF}},
	{"commission@spendchain.local", "Commission des marchés", []string{"commission_marches"}, nil},
	{"tresorier@spendchain.local", "Trésorier", []string{"tresorier", "agent_comptable"}, []string{"TRESORIER"}},
}

// DemoLine is a seeded budget line.
type DemoLine struct {
	Code     string
	Label    string
	Dotation types.Amount
}

// DemoLines are opened for the seeded exercice.
var DemoLines = []DemoLine{
	{"60-FOURNITURES", "Fournitures de bureau", 5_000_000},
	{"61-TRANSPORT", "Transport et déplacements", 3_000_000},
	{"62-INFORMATIQUE", "Matériel informatique", 12_000_000},
	{"63-FORMATION", "Formation du personnel", 2_000_000},
}

// SeedDemo registers the demo actors and budget lines. Existing entries are kept.
func SeedDemo(ctx context.Context, s *Services, exercice int, password string) error {
	for _, a := range DemoActors {
		_, err := s.Auth.Register(ctx, a.Email, password, a.DisplayName, a.Profiles, a.Roles)
		if err != nil && !apperror.HasCode(err, apperror.CodeDuplicate) {
			return fmt.Errorf("seed actor %s: %w", a.Email, err)
		}
	}

	for _, l := range DemoLines {
		line := &ledger.BudgetLine{
			ID:               id.New(),
			Code:             l.Code,
			Label:            l.Label,
			Exercice:         exercice,
			DotationInitiale: l.Dotation,
		}
		err := s.Ledger.CreateLine(ctx, line)
		if err != nil && !apperror.HasCode(err, apperror.CodeDuplicate) {
			return fmt.Errorf("seed budget line %s: %w", l.Code, err)
		}
	}

	logger.Info(ctx, "demo data seeded",
		"exercice", exercice, "actors", len(DemoActors), "budget_lines", len(DemoLines))
	return nil
}
