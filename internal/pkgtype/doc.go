// Package pkgtype 聚合各包类型（maven/npm/golang/generic-http）的静态策略，并提供统一的注册入口。
//
// 包类型作者需要：
//  1. 在 internal/pkgtype/<key>/ 下实现路径改写、快照判定与生成器；
//  2. 在 init() 中通过 MustRegister 注册元数据；
//  3. 在 config/modules.go 中以空白导入启用该包类型。
package pkgtype
