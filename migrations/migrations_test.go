package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsPairUp(t *testing.T) {
	list, err := Load(Files)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, "0001_init", list[0].Version)
	for _, table := range []string{"quotations", "invoices", "app_settings", "email_templates", "idempotency_keys"} {
		assert.Contains(t, list[0].Up, "CREATE TABLE IF NOT EXISTS "+table)
		assert.Contains(t, list[0].Down, "DROP TABLE IF EXISTS "+table)
	}
	assert.Contains(t, list[0].Up, "quotations_quotation_number_key")
	assert.Contains(t, list[0].Up, "invoices_invoice_number_key")
}

func TestLoadSortsAndRejectsOrphans(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0002_b.down.sql": {Data: []byte("SELECT -2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT -1")},
		"README.md":       {Data: []byte("ignored")},
	}
	list, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "0001_a", list[0].Version)
	assert.Equal(t, "SELECT -2", list[1].Down)

	fsys["0003_c.up.sql"] = &fstest.MapFile{Data: []byte("SELECT 3")}
	_, err = Load(fsys)
	assert.ErrorContains(t, err, "0003_c")
}
