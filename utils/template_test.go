package utils

import (
	"testing"

	"wablast/apperrors"
	"wablast/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	vars := map[string]string{"name": "Budi", "city": "Jakarta"}

	assert.Equal(t, "Halo Budi dari Jakarta", RenderTemplate("Halo {name} dari {city}", vars))

	// unknown placeholders are left untouched
	assert.Equal(t, "Halo {nickname}", RenderTemplate("Halo {nickname}", vars))

	// repeated placeholders all substituted
	assert.Equal(t, "Budi Budi", RenderTemplate("{name} {name}", vars))

	assert.Equal(t, "no placeholders", RenderTemplate("no placeholders", vars))
}

func TestSelectSampleSingle(t *testing.T) {
	samples := []models.MessageSample{{Text: "only one"}}

	idx, text, err := SelectSample(samples, "")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "only one", text)
}

func TestSelectSampleMultiple(t *testing.T) {
	samples := []models.MessageSample{{Text: "a"}, {Text: "b"}, {Text: "c"}}

	for i := 0; i < 50; i++ {
		idx, text, err := SelectSample(samples, "")
		require.NoError(t, err)
		require.GreaterOrEqual(t, idx, 0)
		require.Less(t, idx, len(samples))
		assert.Equal(t, samples[idx].Text, text)
	}
}

func TestSelectSampleFromColumn(t *testing.T) {
	samples := []models.MessageSample{{Text: "configured"}}

	idx, text, err := SelectSample(samples, "row message wins")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
	assert.Equal(t, "row message wins", text)

	// column value also works with no configured samples at all
	idx, text, err = SelectSample(nil, "standalone")
	require.NoError(t, err)
	assert.Equal(t, -1, idx)
	assert.Equal(t, "standalone", text)
}

func TestSelectSampleEmpty(t *testing.T) {
	_, _, err := SelectSample(nil, "")
	assert.True(t, apperrors.IsValidation(err))
}
