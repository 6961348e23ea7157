package engine

import (
	"fmt"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

func TestDialect_SavepointTemplates(t *testing.T) {
	pg := Dialect(FamilyPostgres)
	assert.Check(t, pg.SupportsSavepoints)
	assert.Check(t, cmp.Equal(fmt.Sprintf(pg.SavepointTemplate, "sp_1"), "SAVEPOINT sp_1"))
	assert.Check(t, cmp.Equal(fmt.Sprintf(pg.SavepointRollbackTemplate, "sp_1"), "ROLLBACK TO SAVEPOINT sp_1"))

	ss := Dialect(FamilySQLServer)
	assert.Check(t, cmp.Equal(fmt.Sprintf(ss.SavepointTemplate, "sp_1"), "SAVE TRANSACTION sp_1"))
	// Savepoints vanish on commit; there is nothing to release.
	assert.Check(t, cmp.Equal(ss.SavepointReleaseTemplate, ""))
}

func TestDialect_UnknownFamilyIsConservative(t *testing.T) {
	facts := Dialect(Family(99))
	assert.Check(t, !facts.SupportsSavepoints)
	assert.Check(t, !facts.AcceptsTxIsolation)
	assert.Check(t, !facts.SupportsReadOnlyTx)
	assert.Check(t, facts.DefaultPoolSize > 0)
}

func TestDialect_EveryFamilyHasAPoolDefault(t *testing.T) {
	for family := range dialects {
		assert.Check(t, Dialect(family).DefaultPoolSize > 0, "family %s", family)
	}
}

func TestDialect_SQLiteRejectsExplicitIsolation(t *testing.T) {
	facts := Dialect(FamilySQLite)
	assert.Check(t, !facts.AcceptsTxIsolation)
	assert.Check(t, !facts.SupportsReadOnlyTx)
	assert.Check(t, cmp.Equal(facts.DriverName, "sqlite3"))
}
