package store

import (
	"errors"
	"fmt"
)

// ErrPolicyViolation 表示写入被仓库策略拒绝。
var ErrPolicyViolation = errors.New("store policy violation")

// CheckWrite 校验 hosted 仓库能否接受该路径；snapshot 由包类型分类器给出。
func (h *HostedRepository) CheckWrite(snapshot bool) error {
	switch {
	case h.ReadOnly:
		return fmt.Errorf("%w: %s is read-only", ErrPolicyViolation, h.Key)
	case snapshot && !h.AllowSnapshots:
		return fmt.Errorf("%w: %s does not allow snapshots", ErrPolicyViolation, h.Key)
	case !snapshot && !h.AllowReleases:
		return fmt.Errorf("%w: %s does not allow releases", ErrPolicyViolation, h.Key)
	}
	return nil
}
