package npm

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/content-hub/internal/digest"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

func decode(t *testing.T, raw string) map[string]json.RawMessage {
	t.Helper()
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(raw), &doc))
	return doc
}

func TestMergeUnionsVersionsFirstWins(t *testing.T) {
	first := decode(t, `{"name":"demo","versions":{"1.0.0":{"v":"a"}},"dist-tags":{"latest":"1.0.0"}}`)
	second := decode(t, `{"name":"other","versions":{"1.0.0":{"v":"b"},"2.0.0":{"v":"b"}},"dist-tags":{"latest":"2.0.0","next":"3.0.0"}}`)

	out, err := Merge([]map[string]json.RawMessage{first, second})
	require.NoError(t, err)

	var merged struct {
		Name     string                       `json:"name"`
		Versions map[string]map[string]string `json:"versions"`
		DistTags map[string]string            `json:"dist-tags"`
	}
	require.NoError(t, json.Unmarshal(out, &merged))
	assert.Equal(t, "demo", merged.Name)
	assert.Equal(t, "a", merged.Versions["1.0.0"]["v"])
	assert.Contains(t, merged.Versions, "2.0.0")
	assert.Equal(t, "1.0.0", merged.DistTags["latest"])
	assert.Equal(t, "3.0.0", merged.DistTags["next"])
}

func TestIsMetadataPath(t *testing.T) {
	assert.True(t, IsMetadataPath("lodash"))
	assert.True(t, IsMetadataPath("/@types/node"))
	assert.True(t, IsMetadataPath("lodash/package.json"))
	assert.False(t, IsMetadataPath("lodash/-/lodash-1.0.0.tgz"))
	assert.False(t, IsMetadataPath("lodash/1.0.0"))
	assert.False(t, IsMetadataPath("lodash.tgz"))
}

func TestMergerWithoutSourcesProducesNothing(t *testing.T) {
	out, err := NewMetadataMerger().GenerateGroupFileContent(context.Background(), emptyResolver{}, nil, nil, "lodash")
	require.NoError(t, err)
	assert.Nil(t, out)
}

type emptyResolver struct{}

func (emptyResolver) RetrieveFirst(context.Context, []store.StoreKey, string) (*transfer.Transfer, error) {
	return nil, nil
}

func (emptyResolver) RetrieveAll(context.Context, []store.StoreKey, string) ([]*transfer.Transfer, error) {
	return nil, nil
}

func (emptyResolver) Digest(context.Context, store.StoreKey, string, ...digest.Algorithm) (*digest.Record, error) {
	return nil, nil
}

func TestDottedPackageNameIsMetadata(t *testing.T) {
	assert.True(t, IsMetadataPath("lodash.merge"))
}
