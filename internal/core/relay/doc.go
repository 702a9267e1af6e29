// Package relay 实现本地中继监听
//
// 监听 local_port，每个本地连接在当前隧道会话上打开一条中继流并双向转发。
//
// 隧道失效时连接被分离（本地一侧保持打开），由工作节点决定：
// 重连成功后 Attach 到新会话继续转发；超出宽限期则 Interrupt，
// 向本地对端写入 "tunnel interrupted" 后关闭。
package relay
