package internal

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationProvider_ListsEmbeddedSchema(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	provider, err := newMigrationProvider(db)
	require.NoError(t, err)

	var versions []int64
	for _, src := range provider.ListSources() {
		versions = append(versions, src.Version)
	}
	assert.Equal(t, []int64{1, 2}, versions)
}
