// Package workflow implements the spending chain: eight ordered stages, each
// a record moving through brouillon → soumis → a_valider → {valide | rejete | differe}.
package workflow

import (
	"encoding/json"
	"fmt"

	"spendchain/internal/core/apperror"
)

// Stage is one of the eight stages of the spending chain, in chain order.
type Stage int

const (
	StageNoteSEF Stage = iota + 1
	StageNoteAEF
	StageImputation
	StagePassationMarche
	StageEngagement
	StageLiquidation
	StageOrdonnancement
	StageReglement
)

// Stages returns every stage in chain order.
func Stages() []Stage {
	return []Stage{
		StageNoteSEF,
		StageNoteAEF,
		StageImputation,
		StagePassationMarche,
		StageEngagement,
		StageLiquidation,
		StageOrdonnancement,
		StageReglement,
	}
}

// ParseStage resolves a stage key such as "engagement".
func ParseStage(key string) (Stage, error) {
	switch key {
	case "note_sef":
		return StageNoteSEF, nil
	case "note_aef":
		return StageNoteAEF, nil
	case "imputation":
		return StageImputation, nil
	case "passation_marche":
		return StagePassationMarche, nil
	case "engagement":
		return StageEngagement, nil
	case "liquidation":
		return StageLiquidation, nil
	case "ordonnancement":
		return StageOrdonnancement, nil
	case "reglement":
		return StageReglement, nil
	default:
		return 0, apperror.NewValidation("unknown entity_type").WithDetail("entity_type", key)
	}
}

// Key returns the wire name of the stage.
func (s Stage) Key() string {
	switch s {
	case StageNoteSEF:
		return "note_sef"
	case StageNoteAEF:
		return "note_aef"
	case StageImputation:
		return "imputation"
	case StagePassationMarche:
		return "passation_marche"
	case StageEngagement:
		return "engagement"
	case StageLiquidation:
		return "liquidation"
	case StageOrdonnancement:
		return "ordonnancement"
	case StageReglement:
		return "reglement"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) String() string { return s.Key() }

// Valid reports whether s is one of the eight stages.
func (s Stage) Valid() bool {
	return s >= StageNoteSEF && s <= StageReglement
}

// Next returns the following stage. reglement has none.
func (s Stage) Next() (Stage, bool) {
	if !s.Valid() || s == StageReglement {
		return 0, false
	}
	return s + 1, true
}

// MarshalJSON encodes the stage by key.
func (s Stage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Key())
}

// UnmarshalJSON decodes a stage key.
func (s *Stage) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	parsed, err := ParseStage(key)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Signature roles of the ordonnancement chain, in step order.
const (
	RoleSAF = "SAF"
	RoleCB  = "CB"
	RoleDAF = "DAF"
	RoleDG  = "DG"
)

// StageSpec is the static description of a stage.
type StageSpec struct {
	Stage Stage
	// Table is the backing table of the stage's records.
	Table string
	// Prefix is the reference prefix of the stage's records.
	Prefix string
	// Profiles and Roles authorized to act on the stage; holding any one suffices.
	Profiles []string
	Roles    []string
	// Chain lists signature roles in step order; empty for single-actor stages.
	Chain []string
	// RequiresBudgetLine is set for stages whose records must carry a budget line.
	RequiresBudgetLine bool
}

// Spec resolves the static description of s.
func (s Stage) Spec() StageSpec {
	switch s {
	case StageNoteSEF:
		return StageSpec{
			Stage: s, Table: "notes_sef", Prefix: "SEF",
			Profiles: []string{"directeur", "chef_service"},
			Roles:    []string{RoleDAF},
		}
	case StageNoteAEF:
		return StageSpec{
			Stage: s, Table: "notes_aef", Prefix: "AEF",
			Profiles: []string{"directeur_general"},
			Roles:    []string{RoleDG},
		}
	case StageImputation:
		return StageSpec{
			Stage: s, Table: "imputations", Prefix: "IMP",
			Profiles:           []string{"controleur_budgetaire"},
			Roles:              []string{RoleCB},
			RequiresBudgetLine: true,
		}
	case StagePassationMarche:
		return StageSpec{
			Stage: s, Table: "passation_marches", Prefix: "PM",
			Profiles:           []string{"commission_marches"},
			Roles:              []string{RoleDAF},
			RequiresBudgetLine: true,
		}
	case StageEngagement:
		return StageSpec{
			Stage: s, Table: "budget_engagements", Prefix: "ENG",
			Profiles:           []string{"controleur_budgetaire"},
			Roles:              []string{RoleCB, RoleDAF},
			RequiresBudgetLine: true,
		}
	case StageLiquidation:
		return StageSpec{
			Stage: s, Table: "budget_liquidations", Prefix: "LIQ",
			Profiles:           []string{"service_liquidateur"},
			Roles:              []string{RoleSAF, RoleDAF},
			RequiresBudgetLine: true,
		}
	case StageOrdonnancement:
		return StageSpec{
			Stage: s, Table: "ordonnancements", Prefix: "ORD",
			Profiles:           []string{"ordonnateur"},
			Roles:              []string{RoleSAF, RoleCB, RoleDAF, RoleDG},
			Chain:              []string{RoleSAF, RoleCB, RoleDAF, RoleDG},
			RequiresBudgetLine: true,
		}
	case StageReglement:
		return StageSpec{
			Stage: s, Table: "reglements", Prefix: "REG",
			Profiles:           []string{"tresorier", "agent_comptable"},
			Roles:              []string{"TRESORIER"},
			RequiresBudgetLine: true,
		}
	default:
		return StageSpec{Stage: s}
	}
}

// HasChain reports whether the stage uses a multi-actor signature chain.
func (sp StageSpec) HasChain() bool {
	return len(sp.Chain) > 0
}
