package decoder

import (
	"strconv"
	"strings"
)

const (
	logInstructionPrefix = "Program log: Instruction: "
	logProgramPrefix     = "Program "
)

// InstructionNamesFromLogs 从交易日志中提取目标程序每次顶层调用打印的指令名。
// 返回切片的第 n 项对应该程序的第 n 条顶层指令，未打印指令名的调用为空串。
// 日志被截断时，切片可能短于实际的顶层指令数。
func InstructionNamesFromLogs(logs []string, programID string) []string {
	var (
		names []string
		stack []string // 当前调用栈上的程序 ID
	)
	for _, line := range logs {
		if strings.HasPrefix(line, logInstructionPrefix) {
			// 只认目标程序在顶层调用中打印的第一条
			if len(stack) == 1 && stack[0] == programID && len(names) > 0 && names[len(names)-1] == "" {
				names[len(names)-1] = strings.TrimSpace(strings.TrimPrefix(line, logInstructionPrefix))
			}
			continue
		}
		if !strings.HasPrefix(line, logProgramPrefix) {
			continue
		}

		fields := strings.Fields(strings.TrimPrefix(line, logProgramPrefix))
		if len(fields) < 2 {
			continue
		}
		pid, verb := fields[0], fields[1]
		switch {
		case verb == "invoke" && len(fields) == 3:
			depth, ok := parseInvokeDepth(fields[2])
			if !ok {
				continue
			}
			// 深度与栈不一致说明日志有缺失，按深度重新对齐
			if depth-1 < len(stack) {
				stack = stack[:depth-1]
			}
			stack = append(stack, pid)
			if depth == 1 && pid == programID {
				names = append(names, "")
			}
		case verb == "success" || strings.HasPrefix(verb, "failed"):
			if n := len(stack); n > 0 && stack[n-1] == pid {
				stack = stack[:n-1]
			}
		}
	}
	return names
}

// parseInvokeDepth 解析 "[1]" 形式的调用深度
func parseInvokeDepth(s string) (int, bool) {
	if len(s) < 3 || s[0] != '[' || s[len(s)-1] != ']' {
		return 0, false
	}
	depth, err := strconv.Atoi(s[1 : len(s)-1])
	if err != nil || depth < 1 {
		return 0, false
	}
	return depth, true
}
