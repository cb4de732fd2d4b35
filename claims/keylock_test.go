package claims

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefit-engine/benefit"
)

func TestKeyLocks_SameScopeWaits(t *testing.T) {
	locks := newKeyLocks()
	scope := scopeOf(Request{PetID: "pet-1", ProcedureID: "vaccine", AsOf: benefit.MustParseDate("2024-02-01")})

	release := locks.lock(scope)

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		locks.lock(scope)()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held scope")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.Eventually(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, locks.len(), "released scopes are dropped")
}

func TestKeyLocks_DifferentScopesDoNotBlock(t *testing.T) {
	locks := newKeyLocks()
	asOf := benefit.MustParseDate("2024-02-01")

	releaseA := locks.lock(scopeOf(Request{PetID: "pet-1", ProcedureID: "vaccine", AsOf: asOf}))
	releaseB := locks.lock(scopeOf(Request{PetID: "pet-2", ProcedureID: "vaccine", AsOf: asOf}))
	releaseC := locks.lock(scopeOf(Request{PetID: "pet-1", ProcedureID: "vaccine", AsOf: asOf.AddYears(1)}))
	assert.Equal(t, 3, locks.len())

	releaseA()
	releaseB()
	releaseC()
	assert.Equal(t, 0, locks.len())
}
