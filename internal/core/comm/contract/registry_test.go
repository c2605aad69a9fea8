package contract

import (
	"testing"

	version "github.com/hashicorp/go-version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plugmesh/plugmesh/internal/core/comm"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("1.0.0")))
	require.NoError(t, r.Register("plugin-b", cacheContract("1.2.0")))

	got, err := r.Get("com.example.cache", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", got.Version, "highest compatible version wins")
	assert.Equal(t, "plugin-b", got.Provider)
}

func TestRegisterRejectsExactDuplicate(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("1.0.0")))
	err := r.Register("plugin-b", cacheContract("1.0.0"))
	assert.ErrorIs(t, err, comm.ErrDuplicateContract)
}

func TestRegisterRunsValidation(t *testing.T) {
	r := NewRegistry(nil)
	c := cacheContract("1.0.0")
	c.Methods = nil
	assert.ErrorIs(t, r.Register("plugin-a", c), comm.ErrInvalidConfiguration)
}

func TestGetIncompatibleMajor(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("2.0.0")))
	_, err := r.Get("com.example.cache", "1.0.0")
	assert.ErrorIs(t, err, comm.ErrIncompatibleVersion)
}

func TestGetMinorTooOld(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("1.1.0")))
	_, err := r.Get("com.example.cache", "1.3.0")
	assert.ErrorIs(t, err, comm.ErrIncompatibleVersion)
}

func TestGetUnknownService(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get("com.example.missing", "1.0.0")
	assert.ErrorIs(t, err, comm.ErrIncompatibleVersion)
}

func TestFindProvider(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("1.0.0")))
	provider, err := r.FindProvider("com.example.cache", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "plugin-a", provider)
}

func TestValidateDependencies(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("1.2.0")))

	dependent := cacheContract("1.0.0")
	dependent.Name = "com.example.web"
	dependent.Dependencies = map[string]string{"com.example.cache": "1.1.0"}
	require.NoError(t, dependent.Validate())
	assert.NoError(t, r.ValidateDependencies(dependent))

	dependent.Dependencies = map[string]string{"com.example.queue": "1.0.0"}
	assert.ErrorIs(t, r.ValidateDependencies(dependent), comm.ErrDependencyMissing)
}

func TestUnregisterByProvider(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("plugin-a", cacheContract("1.0.0")))
	require.NoError(t, r.Register("plugin-b", cacheContract("1.1.0")))

	assert.Equal(t, 1, r.Unregister("plugin-a", "com.example.cache"))
	got, err := r.Get("com.example.cache", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "plugin-b", got.Provider)
}

func TestCompatibilityLevels(t *testing.T) {
	mk := func(s string) *version.Version {
		v, err := version.NewVersion(s)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, Patch, CompatibilityOf(mk("1.2.3"), mk("1.2.0")))
	assert.Equal(t, Minor, CompatibilityOf(mk("1.3.0"), mk("1.2.0")))
	assert.Equal(t, Major, CompatibilityOf(mk("2.0.0"), mk("1.2.0")))
	assert.Equal(t, Breaking, CompatibilityOf(mk("4.0.0"), mk("1.2.0")))

	assert.True(t, Compatible(mk("1.2.3"), mk("1.2.0")))
	assert.True(t, Compatible(mk("1.5.0"), mk("1.2.0")))
	assert.False(t, Compatible(mk("1.1.0"), mk("1.2.0")))
	assert.False(t, Compatible(mk("2.0.0"), mk("1.2.0")))
}
