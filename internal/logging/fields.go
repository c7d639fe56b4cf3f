package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/content-hub/internal/store"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StoreFields 提供仓库键与逻辑路径字段，供解析、写入、失效日志复用。
func StoreFields(action string, key store.StoreKey, path string) logrus.Fields {
	return logrus.Fields{
		"action":       action,
		"store":        key.String(),
		"package_type": key.PackageType,
		"path":         path,
	}
}

// RequestFields 提供访问入口的请求字段。
func RequestFields(requestID, method, target, path string, status int, generated bool) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"store":      target,
		"path":       path,
		"status":     status,
		"generated":  generated,
	}
}
