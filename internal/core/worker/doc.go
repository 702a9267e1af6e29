// Package worker 实现代理工作节点状态机
//
// 状态流转：
//
//	idle -> starting -> negotiating -> tunneled -> relaying <-> reconnecting
//	                                                   |
//	任意运行状态 -> stopping -> idle；不可恢复错误 -> failed
//
// 每次 Start 启动一个运行循环 goroutine，负责协商、监督会话心跳与重连。
// 生命周期操作（Start/Stop/Restart）由同一把锁串行化；Status/IsRunning
// 读取每次状态切换时发布的快照，不等待该锁。
//
// # 重连
//
// 会话失效后进入 reconnecting，本地中继连接保持打开、与旧会话分离。
// 在 ReconnectGrace 窗口内以指数退避重新协商；成功则把连接恢复到新会话，
// 超时则中断所有连接（写入 "tunnel interrupted\n"）并回到 negotiating。
// 认证、配置、绑定错误以及协商重试耗尽进入 failed。
package worker
