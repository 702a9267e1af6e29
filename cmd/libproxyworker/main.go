// Package main 构建供宿主进程加载的 C 共享库
//
//	go build -buildmode=c-shared -o libproxyworker.so ./cmd/libproxyworker
//
// 每个导出函数接收/返回 JSON 字符串。返回的字符串由 C.CString 分配，
// 调用方用完后必须调用 FreeString 释放。
package main

/*
#include <stdlib.h>
*/
import "C"

import (
	"unsafe"

	proxyworker "github.com/aro-network/go-proxyworker"
)

//export StartProxyWorker
func StartProxyWorker(configJSON *C.char) *C.char {
	return C.CString(proxyworker.StartProxyWorker(C.GoString(configJSON)))
}

//export StopProxyWorker
func StopProxyWorker() *C.char {
	return C.CString(proxyworker.StopProxyWorker())
}

//export RestartProxyWorker
func RestartProxyWorker() *C.char {
	return C.CString(proxyworker.RestartProxyWorker())
}

//export GetProxyWorkerStatus
func GetProxyWorkerStatus() *C.char {
	return C.CString(proxyworker.GetProxyWorkerStatus())
}

//export IsProxyWorkerRunning
func IsProxyWorkerRunning() *C.char {
	return C.CString(proxyworker.IsProxyWorkerRunning())
}

//export Cleanup
func Cleanup() *C.char {
	return C.CString(proxyworker.Cleanup())
}

//export GetCurrentVersion
func GetCurrentVersion() *C.char {
	return C.CString(proxyworker.GetCurrentVersion())
}

//export FreeString
func FreeString(s *C.char) {
	C.free(unsafe.Pointer(s))
}

func main() {}
