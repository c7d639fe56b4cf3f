package store

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeyNormalizes(t *testing.T) {
	key, err := ParseKey(" Maven:HOSTED:local ")
	require.NoError(t, err)
	assert.Equal(t, NewKey("maven", TypeHosted, "local"), key)
	assert.Equal(t, "maven:hosted:local", key.String())

	short, err := ParseKey("remote:central")
	require.NoError(t, err)
	assert.Equal(t, "maven", short.PackageType)

	for _, raw := range []string{"", "maven:bogus:x", "npm:hosted:", "a:b:c:d"} {
		_, err := ParseKey(raw)
		assert.ErrorIs(t, err, ErrInvalidKey, raw)
	}
}

func TestKeyEqualityIsIdentity(t *testing.T) {
	a := NewKey("npm", TypeGroup, "public")
	b := MustParseKey("NPM:group:public")
	set := map[StoreKey]int{a: 1}
	set[b]++
	assert.Len(t, set, 1)
	assert.Equal(t, 2, set[a])
}

func TestKeyTotalOrder(t *testing.T) {
	keys := []StoreKey{
		MustParseKey("npm:hosted:a"),
		MustParseKey("maven:remote:a"),
		MustParseKey("maven:group:z"),
		MustParseKey("maven:group:b"),
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Compare(keys[j]) < 0 })
	assert.Equal(t, []string{"maven:group:b", "maven:group:z", "maven:remote:a", "npm:hosted:a"},
		[]string{keys[0].String(), keys[1].String(), keys[2].String(), keys[3].String()})
}

func TestAllowsPathMasks(t *testing.T) {
	base := StoreBase{PathMaskPatterns: []string{"org/commonjava/*", "r|^com/.+\\.pom$|"}}
	assert.True(t, base.AllowsPath("/org/commonjava/foo"))
	assert.True(t, base.AllowsPath("/org/"))
	assert.True(t, base.AllowsPath("com/acme/a.pom"))
	assert.False(t, base.AllowsPath("/net/other/a.jar"))
	assert.True(t, base.AllowsPath("org/commonjava/foo/1.0/foo-1.0.jar"))

	apache := StoreBase{PathMaskPatterns: []string{"org/apache/*"}}
	assert.True(t, apache.AllowsPath("org/apache"))
	assert.True(t, apache.AllowsPath("/"))
	assert.False(t, apache.AllowsPath("org/a"), "部分路径段不应命中")
	assert.False(t, apache.AllowsPath("org/apachefoo/x.jar"))
	assert.False(t, StoreBase{PathMaskPatterns: []string{"org/apache"}}.AllowsPath("org/apachefoo"))
	assert.True(t, StoreBase{}.AllowsPath("/anything"))
}

func TestHostedCheckWrite(t *testing.T) {
	h := &HostedRepository{StoreBase: StoreBase{Key: MustParseKey("maven:hosted:rel")}, AllowReleases: true}
	require.NoError(t, h.CheckWrite(false))
	assert.ErrorIs(t, h.CheckWrite(true), ErrPolicyViolation)

	h.ReadOnly = true
	assert.ErrorIs(t, h.CheckWrite(false), ErrPolicyViolation)
}
