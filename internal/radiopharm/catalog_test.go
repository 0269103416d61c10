package radiopharm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupIsotope_ResolvesAliasesToOneRecord(t *testing.T) {
	canonical, err := LookupIsotope("Tc-99m")
	require.NoError(t, err)

	for _, alias := range []string{"Tc99m", "99mTc", "TC-99M", " tc 99m ", "technetium-99m"} {
		got, err := LookupIsotope(alias)
		require.NoError(t, err, alias)
		assert.Equal(t, canonical, got, alias)
	}
	assert.Equal(t, "Tc-99m", canonical.Symbol)
}

func TestLookupIsotope_Unknown(t *testing.T) {
	_, err := LookupIsotope("Xx-999")
	assert.ErrorIs(t, err, ErrUnknownIsotope)

	_, err = LookupIsotope("")
	assert.ErrorIs(t, err, ErrUnknownIsotope)
}

func TestCatalog_DecayConstantMatchesHalfLife(t *testing.T) {
	for _, iso := range Isotopes() {
		want := math.Ln2 / iso.HalfLifeHours
		assert.InEpsilon(t, want, iso.DecayConstant, decayConstantTolerance, iso.Symbol)
	}
}

func TestIsotopes_SortedBySymbol(t *testing.T) {
	isos := Isotopes()
	require.NotEmpty(t, isos)
	for i := 1; i < len(isos); i++ {
		assert.Less(t, isos[i-1].Symbol, isos[i].Symbol)
	}
}

func TestParseCatalog_RejectsInconsistentDecayConstant(t *testing.T) {
	doc := []byte(`
isotopes:
  - symbol: Tc-99m
    half_life_hours: 6.02
    decay_constant: 0.2
`)
	_, err := parseCatalog(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decay constant")
}

func TestParseCatalog_RejectsAliasClaimedTwice(t *testing.T) {
	doc := []byte(`
isotopes:
  - symbol: A-1
    half_life_hours: 1
    decay_constant: 0.693147
    aliases: [shared]
  - symbol: B-2
    half_life_hours: 2
    decay_constant: 0.346574
    aliases: [Shared]
`)
	_, err := parseCatalog(doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claimed")
}

func TestParseCatalog_RejectsNonPositiveHalfLife(t *testing.T) {
	doc := []byte(`
isotopes:
  - symbol: A-1
    half_life_hours: 0
    decay_constant: 0
`)
	_, err := parseCatalog(doc)
	assert.Error(t, err)
}
