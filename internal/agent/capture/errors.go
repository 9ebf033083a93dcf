package capture

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

var (
	ErrDeviceNotFound   = errors.New("网卡不存在")
	ErrPermissionDenied = errors.New("没有抓包权限")
	ErrOpenFailed       = errors.New("打开网卡失败")
	ErrListFailed       = errors.New("枚举网卡失败")
	ErrAlreadyRunning   = errors.New("抓包已在运行，请先停止")
	ErrNotRunning       = errors.New("抓包未运行")
	ErrFilterInvalid    = errors.New("过滤器设置失败")
	ErrReadFailure      = errors.New("读取数据包失败")
	// ErrTimeout 是读超时，抓包循环把它当作正常的空转。
	ErrTimeout = errors.New("读取超时")
)

const permissionHint = "需要 root 或 CAP_NET_RAW 权限（macOS 需要 /dev/bpf* 读权限）"

// classifyOpenError 把底层库的打开错误归类为本包的哨兵错误。
// libpcap 只给出文本错误，只能按内容判断。
func classifyOpenError(device string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, syscall.EPERM), errors.Is(err, syscall.EACCES),
		strings.Contains(msg, "permission"), strings.Contains(msg, "not permitted"):
		return fmt.Errorf("%w：%s：%w（%s）", ErrPermissionDenied, device, err, permissionHint)
	case errors.Is(err, syscall.ENODEV), strings.Contains(msg, "no such device"):
		return fmt.Errorf("%w：%s：%w", ErrDeviceNotFound, device, err)
	default:
		return fmt.Errorf("%w：%s：%w", ErrOpenFailed, device, err)
	}
}
