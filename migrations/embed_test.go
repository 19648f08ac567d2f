package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEveryUpMigrationHasADown(t *testing.T) {
	ups, err := fs.Glob(FS, "*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	for _, up := range ups {
		_, err := fs.Stat(FS, strings.TrimSuffix(up, ".up.sql")+".down.sql")
		require.NoError(t, err, up)
	}
}

func TestSchemaDeclaresIdempotencyConstraints(t *testing.T) {
	var schema strings.Builder
	ups, err := fs.Glob(FS, "*.up.sql")
	require.NoError(t, err)
	for _, up := range ups {
		data, err := fs.ReadFile(FS, up)
		require.NoError(t, err)
		schema.Write(data)
	}
	for _, name := range []string{
		"uq_journal_entries_reference",
		"uq_accounts_company_code",
		"ex_accounting_periods_overlap",
		"uq_documents_number",
		"uq_document_payments_document",
		"uq_refund_requests_number",
		"uq_vouchers_refund",
	} {
		require.Contains(t, schema.String(), name)
	}
}
