package workflow_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendchain/internal/core/apperror"
	"spendchain/internal/domain/workflow"
)

func TestStages_RoundTripKeys(t *testing.T) {
	keys := []string{
		"note_sef", "note_aef", "imputation", "passation_marche",
		"engagement", "liquidation", "ordonnancement", "reglement",
	}
	stages := workflow.Stages()
	require.Len(t, stages, len(keys))

	for i, key := range keys {
		t.Run(key, func(t *testing.T) {
			stage, err := workflow.ParseStage(key)
			require.NoError(t, err)
			assert.Equal(t, stages[i], stage)
			assert.Equal(t, key, stage.Key())

			spec := stage.Spec()
			assert.NotEmpty(t, spec.Table)
			assert.NotEmpty(t, spec.Prefix)
			assert.NotEmpty(t, append(spec.Profiles, spec.Roles...))
		})
	}
}

func TestParseStage_Unknown(t *testing.T) {
	_, err := workflow.ParseStage("budget_engagements")
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))
}

func TestStage_Next(t *testing.T) {
	next, ok := workflow.StageEngagement.Next()
	assert.True(t, ok)
	assert.Equal(t, workflow.StageLiquidation, next)

	_, ok = workflow.StageReglement.Next()
	assert.False(t, ok, "reglement is the last stage")
}

func TestStage_JSON(t *testing.T) {
	b, err := json.Marshal(workflow.StageOrdonnancement)
	require.NoError(t, err)
	assert.JSONEq(t, `"ordonnancement"`, string(b))

	var s workflow.Stage
	require.NoError(t, json.Unmarshal([]byte(`"liquidation"`), &s))
	assert.Equal(t, workflow.StageLiquidation, s)
	assert.Error(t, json.Unmarshal([]byte(`"unknown"`), &s))
}

func TestOrdonnancementChain(t *testing.T) {
	spec := workflow.StageOrdonnancement.Spec()
	assert.True(t, spec.HasChain())
	assert.Equal(t, []string{workflow.RoleSAF, workflow.RoleCB, workflow.RoleDAF, workflow.RoleDG}, spec.Chain)
	assert.False(t, workflow.StageEngagement.Spec().HasChain())
}

func TestDraftValidate(t *testing.T) {
	tests := []struct {
		name  string
		stage workflow.Stage
		draft workflow.Draft
	}{
		{"MissingExercice", workflow.StageNoteSEF, workflow.Draft{Objet: "x"}},
		{"MissingObjet", workflow.StageNoteSEF, workflow.Draft{Exercice: 2026, Objet: "  "}},
		{"NegativeMontant", workflow.StageNoteSEF, workflow.Draft{Exercice: 2026, Objet: "x", Montant: -1}},
		{"EngagementWithoutLine", workflow.StageEngagement, workflow.Draft{Exercice: 2026, Objet: "x", Montant: 10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.Validate(tt.stage.Spec())
			assert.True(t, apperror.HasCode(err, apperror.CodeValidation), "got %v", err)
		})
	}

	assert.NoError(t, workflow.Draft{Exercice: 2026, Objet: "note"}.Validate(workflow.StageNoteSEF.Spec()))
}
