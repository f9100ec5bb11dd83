package bot

import (
	"sort"
	"time"
)

// InstrumentStatus 交易对调度状态
type InstrumentStatus string

const (
	StateIdle        InstrumentStatus = "idle"
	StateCoolingDown InstrumentStatus = "cooling_down"
	StateEligible    InstrumentStatus = "eligible"
	StateRunning     InstrumentStatus = "running"
)

// InstrumentState 单个交易对的调度信息
type InstrumentState struct {
	Pair                string           `json:"pair"`
	State               InstrumentStatus `json:"state"`
	LastCheck           int64            `json:"last_check,omitempty"`
	LastReason          string           `json:"last_reason,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
}

// instruments tick内修改，外部读取副本
type instruments struct {
	byPair map[string]*InstrumentState
}

func newInstruments() *instruments {
	return &instruments{byPair: make(map[string]*InstrumentState)}
}

func (in *instruments) get(pair string) *InstrumentState {
	s, ok := in.byPair[pair]
	if !ok {
		s = &InstrumentState{Pair: pair, State: StateIdle}
		in.byPair[pair] = s
	}
	return s
}

func (in *instruments) lastCheck(pair string) (time.Time, bool) {
	s, ok := in.byPair[pair]
	if !ok || s.LastCheck == 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(s.LastCheck), true
}

// settle 本轮评估结束：记录检查时间、原因和失败计数
func (in *instruments) settle(pair string, now time.Time, reason string, failed bool) {
	s := in.get(pair)
	s.LastCheck = now.UnixMilli()
	s.LastReason = reason
	s.State = StateIdle
	if failed {
		s.ConsecutiveFailures++
	} else {
		s.ConsecutiveFailures = 0
	}
}

func (in *instruments) snapshot() []InstrumentState {
	out := make([]InstrumentState, 0, len(in.byPair))
	for _, s := range in.byPair {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}
