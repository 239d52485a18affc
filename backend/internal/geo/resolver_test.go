package geo

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledResolver(t *testing.T) {
	r, err := Open("", nil)
	require.NoError(t, err)
	assert.False(t, r.Enabled())
	assert.Equal(t, "", r.Country("8.8.8.8"))
	assert.NoError(t, r.Close())
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "GeoLite2-Country.mmdb"), nil)
	assert.Error(t, err)
}
