// Package proxyworker 提供代理工作节点的 JSON ABI
//
// 代理工作节点根据 JSON 配置与远端代理服务器建立 NAT 穿透隧道，
// 把本地端口上的连接经隧道中继出去，并向宿主进程暴露幂等的
// 启动/停止/重启/状态查询操作。
//
// # 快速开始
//
//	import proxyworker "github.com/aro-network/go-proxyworker"
//
//	resp := proxyworker.StartProxyWorker(`{
//	    "sn": "X", "token": "T", "tunnel_id": "Y",
//	    "proxy_server_ip": "127.0.0.1", "proxy_server_port": 8000,
//	    "local_port": 10800, "nat_type": 1, "fixed_port": 10800
//	}`)
//	// {"code":200,"message":"success","data":{"state":"starting"}}
//
//	status := proxyworker.GetProxyWorkerStatus()
//	proxyworker.StopProxyWorker()
//
// # 响应格式
//
// 每个操作返回一个 JSON 文档：
//
//	{"code": int, "message": string, "data": object|null}
//
// code 为 200 表示成功，其余取值：
//
//	400 配置错误        401 认证失败
//	409 状态错误        423 本地端口不可用
//	502 协商失败        504 隧道中断
//	500 内部错误
//
// # 实例
//
// 包级函数操作进程内唯一的默认实例（Default）。测试中可用 NewFacade
// 创建相互独立的实例。生命周期操作由一把锁串行化；状态查询读取已发布
// 的快照，不等待进行中的启动/停止。
package proxyworker
