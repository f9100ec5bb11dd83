package ledger

import (
	"context"
	"sync"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// 账本事件类型
const (
	EventOrderOpened  = "order_opened"
	EventOrderFailed  = "order_failed"
	EventOrderPartial = "order_partial"
	EventOrderClosed  = "order_closed"
)

// Memory 内存账本（测试与simulation）
type Memory struct {
	mu     sync.Mutex
	events []types.LedgerEvent
}

// NewMemory 创建内存账本
func NewMemory() *Memory {
	return &Memory{}
}

// Append 追加事件
func (m *Memory) Append(_ context.Context, event types.LedgerEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// Events 事件副本（按追加顺序）
func (m *Memory) Events() []types.LedgerEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.LedgerEvent(nil), m.events...)
}

// Discard 丢弃所有事件（显式关闭账本）
type Discard struct{}

// Append 不做任何事
func (Discard) Append(context.Context, types.LedgerEvent) error { return nil }

var (
	_ types.TradeLedger = (*Memory)(nil)
	_ types.TradeLedger = Discard{}
)
