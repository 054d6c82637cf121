package consts

import "runtime"

// UnknownMarket 表示事件无法归属到已注册市场时使用的占位值
const UnknownMarket = "unknown"

// CommitmentConfirmed 所有链上读操作使用的确认级别
const CommitmentConfirmed = "confirmed"

// CpuCount 表示逻辑 CPU 核心数，用于控制并发任务调度上限
var CpuCount = runtime.NumCPU()
