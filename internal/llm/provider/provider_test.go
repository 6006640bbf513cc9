package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/scan2csv/internal/common"
)

func TestRegistrySharesClients(t *testing.T) {
	cfg := common.Defaults()
	cfg.OpenAI.APIKey = "k"
	r := NewRegistry(&cfg, nil)

	a, err := r.Get(context.Background(), common.BackendOpenAI)
	require.NoError(t, err)
	b, err := r.Get(context.Background(), common.BackendOpenAI)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.Get(context.Background(), common.BackendHyperbolic)
	require.NoError(t, err)

	_, err = r.Get(context.Background(), common.BackendTesseract)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	assert.NoError(t, r.Close())
}
