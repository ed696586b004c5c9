package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskmesh/orchestrator/internal/validate"
	"github.com/taskmesh/orchestrator/internal/value"
)

const reportSchema = `{
	"type": "object",
	"required": ["url"],
	"properties": {
		"url": {"type": "string"}
	}
}`

func TestValidate_UnregisteredTypeAlwaysPasses(t *testing.T) {
	set := validate.NewSchemaSet()
	err := set.Validate("anything", value.Object(map[string]any{}))
	assert.NoError(t, err)
}

func TestValidate_RejectsMissingRequiredField(t *testing.T) {
	set := validate.NewSchemaSet()
	require.NoError(t, set.Register("scrape_report", []byte(reportSchema)))

	err := set.Validate("scrape_report", value.Object(map[string]any{}))
	require.Error(t, err)
}

func TestValidate_AcceptsConformingInput(t *testing.T) {
	set := validate.NewSchemaSet()
	require.NoError(t, set.Register("scrape_report", []byte(reportSchema)))

	err := set.Validate("scrape_report", value.Object(map[string]any{"url": "https://example.com"}))
	assert.NoError(t, err)
}

func TestCheckSize_RejectsOversizedInput(t *testing.T) {
	big := make([]byte, validate.MaxInputBytes+1)
	assert.Error(t, validate.CheckSize(big))
	assert.NoError(t, validate.CheckSize(big[:100]))
}
