package npm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// MetadataMergerName 是合并生成器名称。
const MetadataMergerName = "npm-metadata-merge"

// mergedFields 中的对象按成员顺序合并，同名键以先出现者为准。
var mergedFields = []string{"versions", "time", "dist-tags"}

// MetadataMerger 将 group 各成员的 package.json 合并为一份。
type MetadataMerger struct {
	generator.Base
}

// NewMetadataMerger 返回合并生成器。
func NewMetadataMerger() *MetadataMerger {
	return &MetadataMerger{}
}

func (m *MetadataMerger) Name() string { return MetadataMergerName }

func (m *MetadataMerger) CanProcess(p string) bool { return IsMetadataPath(p) }

func (m *MetadataMerger) GenerateGroupFileContent(ctx context.Context, r generator.Resolver, _ *store.Group, members []store.StoreKey, p string) (*generator.Generated, error) {
	sources, err := r.RetrieveAll(ctx, members, p)
	if err != nil || len(sources) == 0 {
		return nil, err
	}

	docs := make([]map[string]json.RawMessage, 0, len(sources))
	deps := make([]transfer.Ref, 0, len(sources))
	for _, src := range sources {
		raw, err := src.ReadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src, err)
		}
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", src, err)
		}
		docs = append(docs, doc)
		deps = append(deps, transfer.Ref{Store: src.Origin, Path: src.Path})
	}

	merged, err := Merge(docs)
	if err != nil {
		return nil, err
	}
	return &generator.Generated{Content: bytes.NewReader(merged), Dependencies: deps}, nil
}

// Merge 以第一个文档为基础，合并 versions/time/dist-tags。
func Merge(docs []map[string]json.RawMessage) ([]byte, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("nothing to merge")
	}
	out := make(map[string]json.RawMessage, len(docs[0]))
	for k, v := range docs[0] {
		out[k] = v
	}

	for _, field := range mergedFields {
		union := map[string]json.RawMessage{}
		present := false
		for _, doc := range docs {
			raw, ok := doc[field]
			if !ok {
				continue
			}
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(raw, &obj); err != nil {
				return nil, fmt.Errorf("field %s: %w", field, err)
			}
			present = true
			for k, v := range obj {
				if _, seen := union[k]; !seen {
					union[k] = v
				}
			}
		}
		if !present {
			continue
		}
		encoded, err := json.Marshal(union)
		if err != nil {
			return nil, err
		}
		out[field] = encoded
	}
	return json.Marshal(out)
}
