package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"
)

// DefaultPorts 是默认抓取的 TCP 端口：明文 HTTP 常见端口 + 443（用于推断 scheme）。
var DefaultPorts = []int{80, 8080, 443}

// 每个端口在程序里占 2 条比较指令（src / dst），跳转偏移是 uint8，
// 端口太多会溢出，这里直接限制数量。
const maxPorts = 32

var ErrInvalidPorts = errors.New("端口列表非法")

func validate(ports []int) error {
	if len(ports) == 0 {
		return fmt.Errorf("%w：端口列表为空", ErrInvalidPorts)
	}
	if len(ports) > maxPorts {
		return fmt.Errorf("%w：最多 %d 个端口，当前 %d", ErrInvalidPorts, maxPorts, len(ports))
	}
	for _, p := range ports {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("%w：%d", ErrInvalidPorts, p)
		}
	}
	return nil
}

// Expression 生成 libpcap 过滤表达式，例如 "tcp port 80 or tcp port 8080 or tcp port 443"。
func Expression(ports []int) (string, error) {
	if err := validate(ports); err != nil {
		return "", err
	}
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, "tcp port "+strconv.Itoa(p))
	}
	return strings.Join(parts, " or "), nil
}

// TCPPortsProgram 生成 classic BPF（cBPF）程序，假设链路层为 Ethernet：
//   - IPv4：协议号为 TCP，按 IHL 计算 TCP 头位置后比较 src/dst 端口
//   - IPv6：next header 为 TCP（不处理扩展头），TCP 头固定在 14+40 处
//   - 其余一律丢弃
func TCPPortsProgram(ports []int) ([]bpf.Instruction, error) {
	if err := validate(ports); err != nil {
		return nil, err
	}
	n := len(ports)

	// 指令布局（下标）：
	//   0           ld  EtherType
	//   1           jeq 0x0800 ? v4 : v6
	//   2..7+2n     IPv4 分支
	//   v6..v6+4+2n IPv6 分支
	//   drop        ret 0
	//   accept      ret 0xFFFF
	v6 := 8 + 2*n
	drop := v6 + 5 + 2*n
	accept := drop + 1

	skipTo := func(from, to int) uint8 { return uint8(to - from - 1) }

	ins := make([]bpf.Instruction, 0, accept+1)
	ins = append(ins,
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: skipTo(1, v6)},

		bpf.LoadAbsolute{Off: 23, Size: 1}, // IPv4 protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: skipTo(3, drop)},
		bpf.LoadMemShift{Off: 14}, // X = 4*(ip[0]&0xf)
		bpf.LoadIndirect{Off: 14, Size: 2},
	)
	for _, p := range ports {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(ins), accept)})
	}
	ins = append(ins, bpf.LoadIndirect{Off: 16, Size: 2})
	for _, p := range ports {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(ins), accept)})
	}
	ins = append(ins, bpf.Jump{Skip: uint32(skipTo(len(ins), drop))})

	// 从下标 1 跳过来时 A 仍是 EtherType。
	ins = append(ins,
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x86dd, SkipFalse: skipTo(v6, drop)},
		bpf.LoadAbsolute{Off: 20, Size: 1}, // IPv6 next header
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: skipTo(v6+2, drop)},
		bpf.LoadAbsolute{Off: 54, Size: 2},
	)
	for _, p := range ports {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(ins), accept)})
	}
	ins = append(ins, bpf.LoadAbsolute{Off: 56, Size: 2})
	for _, p := range ports {
		ins = append(ins, bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(p), SkipTrue: skipTo(len(ins), accept)})
	}

	ins = append(ins,
		bpf.RetConstant{Val: 0},      // drop
		bpf.RetConstant{Val: 0xFFFF}, // accept（snaplen 由抓包句柄控制）
	)
	if len(ins) != accept+1 {
		return nil, fmt.Errorf("BPF 指令布局错误：期望 %d 条，实际 %d 条", accept+1, len(ins))
	}
	return ins, nil
}

func TCPPortsBPF(ports []int) ([]bpf.RawInstruction, error) {
	ins, err := TCPPortsProgram(ports)
	if err != nil {
		return nil, err
	}
	raw, err := bpf.Assemble(ins)
	if err != nil {
		return nil, fmt.Errorf("组装 BPF 失败：%w", err)
	}
	return raw, nil
}
