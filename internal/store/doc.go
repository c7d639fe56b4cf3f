// Package store 定义仓库标识（StoreKey）、三类仓库（hosted/remote/group）的封闭变体
// 以及只读拓扑查询契约 DataManager。
//
// 仓库定义的持久化不在本包职责内：MemoryDataManager 在启动时由配置装载，
// 运行期的成员增删会通过 ChangeNotifier 广播 TopologyChange，供失效协调器订阅。
package store
