package execution

import (
	"errors"
	"sort"
	"sync"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

var (
	// ErrRegistryFull 持仓数已达上限
	ErrRegistryFull = errors.New("open order registry is full")
	// ErrPairBusy 该交易对已有持仓
	ErrPairBusy = errors.New("pair already has an open order")
	// ErrOrderNotFound 订单不存在
	ErrOrderNotFound = errors.New("order not found")
)

// Registry 持仓订单登记表，容量在插入时校验
type Registry struct {
	mu         sync.RWMutex
	open       map[string]*types.TradeOrder
	byPair     map[string]string
	archive    []*types.TradeOrder
	archiveMax int
}

// NewRegistry 创建登记表
func NewRegistry(archiveMax int) *Registry {
	if archiveMax <= 0 {
		archiveMax = 500
	}
	return &Registry{
		open:       make(map[string]*types.TradeOrder),
		byPair:     make(map[string]string),
		archiveMax: archiveMax,
	}
}

// CheckCapacity 预检能否再开一单
func (r *Registry) CheckCapacity(pair string, capacity int) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.checkLocked(pair, capacity)
}

func (r *Registry) checkLocked(pair string, capacity int) error {
	if _, busy := r.byPair[pair]; busy {
		return ErrPairBusy
	}
	if len(r.open) >= capacity {
		return ErrRegistryFull
	}
	return nil
}

// Insert 登记开仓订单
func (r *Registry) Insert(o *types.TradeOrder, capacity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(o.Pair, capacity); err != nil {
		return err
	}
	r.open[o.ID] = o
	r.byPair[o.Pair] = o.ID
	return nil
}

// Update 在锁内修改订单
func (r *Registry) Update(id string, fn func(o *types.TradeOrder) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.open[id]
	if !ok {
		return ErrOrderNotFound
	}
	return fn(o)
}

// Archive 移出登记表并归档（归档长度有上限）
func (r *Registry) Archive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.open[id]
	if !ok {
		return
	}
	delete(r.open, id)
	if r.byPair[o.Pair] == id {
		delete(r.byPair, o.Pair)
	}
	r.archive = append(r.archive, o)
	if over := len(r.archive) - r.archiveMax; over > 0 {
		r.archive = r.archive[over:]
	}
}

// Get 订单副本
func (r *Registry) Get(id string) (*types.TradeOrder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.open[id]
	return o.Clone(), ok
}

// HasPair 交易对是否已有持仓
func (r *Registry) HasPair(pair string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPair[pair]
	return ok
}

// Count 持仓订单数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.open)
}

// Open 持仓订单副本（按开仓时间排序）
func (r *Registry) Open() []*types.TradeOrder {
	r.mu.RLock()
	out := make([]*types.TradeOrder, 0, len(r.open))
	for _, o := range r.open {
		out = append(out, o.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp == out[j].Timestamp {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}

// Archived 已归档订单副本（最新在后）
func (r *Registry) Archived() []*types.TradeOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.TradeOrder, 0, len(r.archive))
	for _, o := range r.archive {
		out = append(out, o.Clone())
	}
	return out
}
