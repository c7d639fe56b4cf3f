package golang

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/any-hub/content-hub/internal/generator"
	"github.com/any-hub/content-hub/internal/store"
	"github.com/any-hub/content-hub/internal/transfer"
)

// ListMergerName 是合并生成器名称。
const ListMergerName = "golang-versions-merge"

// ListMerger 合并 group 各成员的 <module>/@v/list，版本按首次出现顺序去重。
type ListMerger struct {
	generator.Base
}

// NewListMerger 返回合并生成器。
func NewListMerger() *ListMerger {
	return &ListMerger{}
}

func (m *ListMerger) Name() string { return ListMergerName }

func (m *ListMerger) CanProcess(p string) bool {
	return strings.HasSuffix(p, "/@v/list")
}

func (m *ListMerger) GenerateGroupFileContent(ctx context.Context, r generator.Resolver, _ *store.Group, members []store.StoreKey, p string) (*generator.Generated, error) {
	sources, err := r.RetrieveAll(ctx, members, p)
	if err != nil || len(sources) == 0 {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out bytes.Buffer
	deps := make([]transfer.Ref, 0, len(sources))
	for _, src := range sources {
		raw, err := src.ReadAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", src, err)
		}
		scanner := bufio.NewScanner(bytes.NewReader(raw))
		for scanner.Scan() {
			version := strings.TrimSpace(scanner.Text())
			if version == "" {
				continue
			}
			if _, dup := seen[version]; dup {
				continue
			}
			seen[version] = struct{}{}
			out.WriteString(version)
			out.WriteByte('\n')
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scan %s: %w", src, err)
		}
		deps = append(deps, transfer.Ref{Store: src.Origin, Path: src.Path})
	}
	return &generator.Generated{Content: bytes.NewReader(out.Bytes()), Dependencies: deps}, nil
}
