package topology

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/content-hub/internal/store"
)

func key(raw string) store.StoreKey { return store.MustParseKey(raw) }

func hosted(name string) *store.HostedRepository {
	return &store.HostedRepository{StoreBase: store.StoreBase{Key: key("maven:hosted:" + name)}, AllowReleases: true}
}

func group(name string, members ...string) *store.Group {
	g := &store.Group{StoreBase: store.StoreBase{Key: key("maven:group:" + name)}}
	for _, m := range members {
		g.Constituents = append(g.Constituents, key(m))
	}
	return g
}

func newTopology(t *testing.T, stores ...store.ArtifactStore) *store.MemoryDataManager {
	t.Helper()
	dm := store.NewMemoryDataManager(nil)
	for _, s := range stores {
		require.NoError(t, dm.PutStore(context.Background(), s))
	}
	return dm
}

func names(locs []Location) []string {
	out := make([]string, len(locs))
	for i, loc := range locs {
		out[i] = loc.Key.Name
	}
	return out
}

func TestExpandPreorderInsertsSubgroupMembers(t *testing.T) {
	dm := newTopology(t,
		hosted("A"), hosted("C"), hosted("D"), hosted("E"),
		group("B", "maven:hosted:D", "maven:hosted:E"),
		group("G", "maven:hosted:A", "maven:group:B", "maven:hosted:C"),
	)
	locs, err := NewResolver(dm).Expand(context.Background(), key("maven:group:G"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "D", "E", "C"}, names(locs))
}

func TestExpandToleratesCyclesAndDiamonds(t *testing.T) {
	dm := newTopology(t,
		hosted("A"), hosted("B"), hosted("C"),
		group("left", "maven:hosted:A", "maven:group:right", "maven:hosted:B"),
		group("right", "maven:hosted:B", "maven:group:left", "maven:hosted:C"),
		group("top", "maven:group:left", "maven:group:right", "maven:hosted:A"),
	)
	locs, err := NewResolver(dm).Expand(context.Background(), key("maven:group:top"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, names(locs))

	seen := map[store.StoreKey]int{}
	for _, loc := range locs {
		seen[loc.Key]++
	}
	for k, n := range seen {
		assert.Equal(t, 1, n, "store %s included more than once", k)
	}
}

func TestExpandSelfReferencingGroup(t *testing.T) {
	dm := newTopology(t, hosted("A"), group("self", "maven:group:self", "maven:hosted:A"))
	locs, err := NewResolver(dm).Expand(context.Background(), key("maven:group:self"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names(locs))
}

func TestExpandDanglingReferenceIsFatal(t *testing.T) {
	dm := newTopology(t,
		hosted("A"),
		group("inner", "maven:hosted:missing"),
		group("G", "maven:hosted:A", "maven:group:inner"),
	)
	locs, err := NewResolver(dm).Expand(context.Background(), key("maven:group:G"))
	require.Error(t, err)
	assert.Nil(t, locs, "partial expansion must not leak")
	assert.ErrorIs(t, err, ErrDanglingReference)

	var dangling *DanglingError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, key("maven:group:inner"), dangling.Group)
	assert.Equal(t, key("maven:hosted:missing"), dangling.Member)
}

func TestExpandSkipsDisabledStores(t *testing.T) {
	off := hosted("off")
	off.Disabled = true
	dm := newTopology(t, hosted("A"), off, group("G", "maven:hosted:off", "maven:hosted:A"))
	locs, err := NewResolver(dm).Expand(context.Background(), key("maven:group:G"))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, names(locs))
}

func TestExpandTranslatesRemoteLocations(t *testing.T) {
	central := &store.RemoteRepository{
		StoreBase: store.StoreBase{Key: key("maven:remote:central")},
		URL:       "https://repo.maven.apache.org/maven2",
		Proxy:     "http://proxy.local:3128",
		Username:  "u",
		Password:  "p",
	}
	cacheOnly := &store.RemoteRepository{
		StoreBase: store.StoreBase{Key: key("maven:remote:offline")},
		URL:       "https://offline.example.com",
		CacheOnly: true,
	}
	dm := newTopology(t, central, cacheOnly, hosted("A"),
		group("G", "maven:hosted:A", "maven:remote:central", "maven:remote:offline"))

	locs, err := NewResolver(dm, WithDefaultTimeout(5*time.Second)).Expand(context.Background(), key("maven:group:G"))
	require.NoError(t, err)
	require.Len(t, locs, 3)

	assert.False(t, locs[0].IsRemote())
	require.True(t, locs[1].IsRemote())
	assert.Equal(t, "repo.maven.apache.org", locs[1].Remote.URL.Host)
	assert.Equal(t, "proxy.local:3128", locs[1].Remote.ProxyURL.Host)
	assert.True(t, locs[1].Remote.HasCredentials())
	assert.Equal(t, 5*time.Second, locs[1].Remote.Timeout)
	assert.False(t, locs[2].IsRemote(), "cache-only remote never contacts upstream")
}

func TestExpandAllDeduplicatesAcrossRoots(t *testing.T) {
	dm := newTopology(t, hosted("A"), hosted("B"), group("G", "maven:hosted:B", "maven:hosted:A"))
	locs, err := NewResolver(dm).ExpandAll(context.Background(),
		[]store.StoreKey{key("maven:hosted:A"), key("maven:group:G")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names(locs))
}

func TestExpandLargeCyclicGraphTerminates(t *testing.T) {
	var stores []store.ArtifactStore
	const n = 50
	for i := 0; i < n; i++ {
		next := fmt.Sprintf("maven:group:g%d", (i+1)%n)
		prev := fmt.Sprintf("maven:group:g%d", (i+n-1)%n)
		stores = append(stores,
			hosted(fmt.Sprintf("h%d", i)),
			group(fmt.Sprintf("g%d", i), next, fmt.Sprintf("maven:hosted:h%d", i), prev),
		)
	}
	dm := newTopology(t, stores...)
	locs, err := NewResolver(dm).Expand(context.Background(), key("maven:group:g0"))
	require.NoError(t, err)
	assert.Len(t, locs, n)
}
