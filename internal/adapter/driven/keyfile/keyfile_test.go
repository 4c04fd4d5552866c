package keyfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newnol/vercel-lb/internal/domain/model"
)

func writeKeyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "key-list.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFetchKeys(t *testing.T) {
	path := writeKeyFile(t, `{"keys":[
		{"name":"alpha","api_key":"vck_alpha"},
		{"name":"empty","api_key":""},
		{"name":"beta","api_key":"vck_beta"}
	]}`)

	keys, err := NewLoader(path).FetchKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.UpstreamKeyEntry{
		{Name: "alpha", Secret: "vck_alpha"},
		{Name: "beta", Secret: "vck_beta"},
	}, keys)
}

func TestFetchKeys_EmptyList(t *testing.T) {
	path := writeKeyFile(t, `{"keys":[]}`)

	keys, err := NewLoader(path).FetchKeys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFetchKeys_MissingFile(t *testing.T) {
	_, err := NewLoader(filepath.Join(t.TempDir(), "nope.json")).FetchKeys(context.Background())
	assert.Error(t, err)
}

func TestFetchKeys_Malformed(t *testing.T) {
	path := writeKeyFile(t, `{"keys":`)

	_, err := NewLoader(path).FetchKeys(context.Background())
	assert.Error(t, err)
}
