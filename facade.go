package proxyworker

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/aro-network/go-proxyworker/internal/core/config"
	"github.com/aro-network/go-proxyworker/internal/core/worker"
	"github.com/aro-network/go-proxyworker/internal/util/logger"
	"github.com/aro-network/go-proxyworker/pkg/types"
)

var log = logger.Logger("proxyworker")

// Version 库版本
const Version = "1.2.0"

// Response ABI 响应信封
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// StateData 生命周期操作的返回数据
type StateData struct {
	State          types.WorkerState `json:"state"`
	AlreadyRunning bool              `json:"already_running,omitempty"`
}

// RunningData IsRunning 的返回数据
type RunningData struct {
	Running bool `json:"running"`
}

// VersionData GetCurrentVersion 的返回数据
type VersionData struct {
	Version string `json:"version"`
}

// Facade 工作节点的 JSON 门面
type Facade struct {
	mu     sync.Mutex
	worker *worker.Worker
}

// NewFacade 创建独立的门面实例
func NewFacade(opts ...Option) (*Facade, error) {
	cfg, err := worker.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return Wrap(worker.New(cfg, nil)), nil
}

// Wrap 为已有的工作节点创建门面
func Wrap(w *worker.Worker) *Facade {
	return &Facade{worker: w}
}

var (
	defaultOnce   sync.Once
	defaultFacade *Facade
)

// Default 返回进程内唯一的默认实例
func Default() *Facade {
	defaultOnce.Do(func() {
		defaultFacade = Wrap(worker.New(worker.DefaultConfig(), nil))
	})
	return defaultFacade
}

// Worker 返回底层工作节点
func (f *Facade) Worker() *worker.Worker {
	return f.worker
}

// ============================================================================
//                              生命周期操作
// ============================================================================

// Start 解析 JSON 配置并启动
func (f *Facade) Start(configJSON string) (out string) {
	defer recoverAndLog("start", &out)

	cfg, err := config.Parse([]byte(configJSON))
	if err != nil {
		return failure(err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	started, err := f.worker.Start(cfg)
	if err != nil {
		return failure(err)
	}
	if !started {
		st := f.worker.State()
		if !st.IsRunning() {
			// failed 或 stopping：需要先 Stop 或 Restart
			return success("worker not idle", StateData{State: st})
		}
		return success("already running", StateData{State: st, AlreadyRunning: true})
	}
	return success("success", StateData{State: types.StateStarting})
}

// Stop 停止，idle 状态下为空操作
func (f *Facade) Stop() (out string) {
	defer recoverAndLog("stop", &out)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.worker.Stop(); err != nil {
		return failure(err)
	}
	return success("success", StateData{State: types.StateIdle})
}

// Restart 使用上次的配置重启
func (f *Facade) Restart() (out string) {
	defer recoverAndLog("restart", &out)

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.worker.Restart(); err != nil {
		return failure(err)
	}
	return success("success", StateData{State: types.StateStarting})
}

// Cleanup 释放资源，运行中时先停止
func (f *Facade) Cleanup() (out string) {
	defer recoverAndLog("cleanup", &out)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.worker.State() != types.StateIdle {
		log.Info("清理：停止工作节点")
		if err := f.worker.Stop(); err != nil {
			return failure(err)
		}
	}
	return success("success", nil)
}

// ============================================================================
//                              状态查询（不加锁）
// ============================================================================

// Status 返回状态快照
func (f *Facade) Status() (out string) {
	defer recoverAndLog("status", &out)
	return success("success", f.worker.Status())
}

// IsRunning 返回是否运行中
func (f *Facade) IsRunning() (out string) {
	defer recoverAndLog("is_running", &out)
	return success("success", RunningData{Running: f.worker.IsRunning()})
}

// ============================================================================
//                              包级函数（默认实例）
// ============================================================================

// StartProxyWorker 启动默认实例
func StartProxyWorker(configJSON string) string { return Default().Start(configJSON) }

// StopProxyWorker 停止默认实例
func StopProxyWorker() string { return Default().Stop() }

// RestartProxyWorker 重启默认实例
func RestartProxyWorker() string { return Default().Restart() }

// GetProxyWorkerStatus 返回默认实例状态
func GetProxyWorkerStatus() string { return Default().Status() }

// IsProxyWorkerRunning 返回默认实例是否运行中
func IsProxyWorkerRunning() string { return Default().IsRunning() }

// Cleanup 停止默认实例
func Cleanup() string { return Default().Cleanup() }

// GetCurrentVersion 返回库版本
func GetCurrentVersion() (out string) {
	defer recoverAndLog("version", &out)
	return success("success", VersionData{Version: Version})
}

// ============================================================================
//                              信封
// ============================================================================

func success(msg string, data any) string {
	return encode(Response{Code: CodeSuccess, Message: msg, Data: data})
}

func failure(err error) string {
	log.Warn("操作失败", "err", err, "code", types.CodeOf(err))
	return encode(Response{Code: types.CodeOf(err), Message: err.Error()})
}

func encode(r Response) string {
	b, err := json.Marshal(r)
	if err != nil {
		// 数据无法编码时退回不带 data 的信封
		b, _ = json.Marshal(Response{Code: types.KindInternal.Code(), Message: err.Error()})
	}
	return string(b)
}

// recoverAndLog 捕获 panic 并转换为内部错误信封
func recoverAndLog(op string, out *string) {
	if r := recover(); r != nil {
		log.Error("ABI 调用 panic", "op", op, "panic", r, "stack", string(debug.Stack()))
		*out = failure(types.NewError(types.KindInternal, op, fmt.Sprintf("panic: %v", r), nil))
	}
}
