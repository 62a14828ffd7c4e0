// 文件: pkg/engine/memory.go
// 内存存储实现
//
// 仿真入口和集成测试共用的全内存实现:
// 接口语义与 MySQL 实现严格对齐 (负值守卫、CAS、幂等流水)，
// 只是把持久化换成 map + 锁。

package engine

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"aequitas.com/pkg/instrument"
	"aequitas.com/pkg/margin"
	"aequitas.com/pkg/order"
	"aequitas.com/pkg/position"
)

// =============================================================================
// MemoryPositionRepo
// =============================================================================

// MemoryPositionRepo 内存持仓存储
type MemoryPositionRepo struct {
	mu        sync.RWMutex
	positions map[string]*position.Position // "accountID|symbol" -> Position
}

var _ position.Repository = (*MemoryPositionRepo)(nil)

func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{positions: make(map[string]*position.Position)}
}

func formatKey(accountID int64, symbol string) string {
	return strconv.FormatInt(accountID, 10) + "|" + symbol
}

func (r *MemoryPositionRepo) GetByAccountAndSymbol(_ context.Context, accountID int64, symbol string) (*position.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.positions[formatKey(accountID, symbol)]
	if !ok {
		return nil, nil
	}
	clone := *pos
	return &clone, nil
}

func (r *MemoryPositionRepo) GetByAccount(_ context.Context, accountID int64) ([]*position.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*position.Position
	for _, pos := range r.positions {
		if pos.AccountID == accountID && pos.Quantity > 0 {
			clone := *pos
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r *MemoryPositionRepo) SumBlockedMargin(_ context.Context, accountID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sum int64
	for _, pos := range r.positions {
		if pos.AccountID == accountID && pos.Quantity > 0 {
			sum += pos.BlockedMargin
		}
	}
	return sum, nil
}

func (r *MemoryPositionRepo) Save(_ context.Context, pos *position.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := formatKey(pos.AccountID, pos.Symbol)
	if pos.IsEmpty() {
		delete(r.positions, key)
		return nil
	}
	pos.UpdatedAt = time.Now().UnixMilli()
	clone := *pos
	r.positions[key] = &clone
	return nil
}

func (r *MemoryPositionRepo) Delete(_ context.Context, accountID int64, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.positions, formatKey(accountID, symbol))
	return nil
}

func (r *MemoryPositionRepo) ListBySymbol(_ context.Context, symbol string, limit, offset int) ([]*position.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*position.Position
	for _, pos := range r.positions {
		if pos.Symbol == symbol && pos.Quantity > 0 {
			clone := *pos
			all = append(all, &clone)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AccountID < all[j].AccountID })
	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// AccountIDs 全部有持仓记录的账户 (对账扫描用)
func (r *MemoryPositionRepo) AccountIDs(_ context.Context) ([]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[int64]struct{})
	for _, pos := range r.positions {
		seen[pos.AccountID] = struct{}{}
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// =============================================================================
// MemoryAccountRepo
// =============================================================================

// MemoryAccountRepo 内存账户存储
type MemoryAccountRepo struct {
	mu       sync.Mutex
	accounts map[int64]*margin.Account
	journals []*margin.JournalEvent
	eventIDs map[string]struct{} // 幂等去重
}

var _ margin.AccountRepository = (*MemoryAccountRepo)(nil)

func NewMemoryAccountRepo() *MemoryAccountRepo {
	return &MemoryAccountRepo{
		accounts: make(map[int64]*margin.Account),
		eventIDs: make(map[string]struct{}),
	}
}

func (r *MemoryAccountRepo) GetByAccountID(_ context.Context, accountID int64) (*margin.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return nil, nil
	}
	clone := *acct
	return &clone, nil
}

func (r *MemoryAccountRepo) Create(_ context.Context, acct *margin.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *acct
	clone.BlockedMargin = 0
	if clone.Currency == "" {
		clone.Currency = "INR"
	}
	r.accounts[acct.AccountID] = &clone
	return nil
}

func (r *MemoryAccountRepo) ApplyDelta(_ context.Context, accountID int64, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return margin.ErrAccountNotFound
	}
	if acct.BlockedMargin+delta < 0 {
		return margin.ErrNegativeMargin
	}
	if delta > 0 && acct.BlockedMargin+delta > acct.Balance {
		return margin.ErrInsufficientBalance
	}
	acct.BlockedMargin += delta
	acct.UpdatedAt = time.Now().UnixMilli()
	return nil
}

func (r *MemoryAccountRepo) AddRealizedPnL(_ context.Context, accountID int64, pnl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return margin.ErrAccountNotFound
	}
	acct.RealizedPnL += pnl
	acct.Balance += pnl
	return nil
}

func (r *MemoryAccountRepo) AddBalance(_ context.Context, accountID int64, amount int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return margin.ErrAccountNotFound
	}
	acct.Balance += amount
	return nil
}

func (r *MemoryAccountRepo) CompareAndSetBlockedMargin(_ context.Context, accountID int64, observed, corrected int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return false, margin.ErrAccountNotFound
	}
	if acct.BlockedMargin != observed {
		return false, nil
	}
	acct.BlockedMargin = corrected
	return true, nil
}

func (r *MemoryAccountRepo) InsertJournal(_ context.Context, event *margin.JournalEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.eventIDs[event.EventID]; dup {
		return nil
	}
	r.eventIDs[event.EventID] = struct{}{}
	clone := *event
	r.journals = append(r.journals, &clone)
	return nil
}

func (r *MemoryAccountRepo) BatchInsertJournals(ctx context.Context, events []*margin.JournalEvent) error {
	for _, event := range events {
		if err := r.InsertJournal(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryAccountRepo) ListJournals(_ context.Context, accountID int64, limit, offset int) ([]*margin.JournalRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*margin.JournalRecord
	for _, e := range r.journals {
		if e.AccountID != accountID {
			continue
		}
		out = append(out, &margin.JournalRecord{
			EventID:       e.EventID,
			AccountID:     e.AccountID,
			Symbol:        e.Symbol,
			ChangeType:    e.ChangeType,
			Amount:        e.Amount,
			BlockedBefore: e.BlockedBefore,
			BlockedAfter:  e.BlockedAfter,
			OrderID:       e.OrderID,
		})
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// SetBlockedMargin 直接改写缓存 (测试/仿真注入漂移用)
func (r *MemoryAccountRepo) SetBlockedMargin(accountID, value int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if acct, ok := r.accounts[accountID]; ok {
		acct.BlockedMargin = value
	}
}

// =============================================================================
// MemoryOrderRepo
// =============================================================================

// MemoryOrderRepo 内存订单存储
type MemoryOrderRepo struct {
	mu     sync.Mutex
	orders map[int64]*order.Order
	seq    []int64 // 插入顺序
}

var _ order.Repository = (*MemoryOrderRepo)(nil)

func NewMemoryOrderRepo() *MemoryOrderRepo {
	return &MemoryOrderRepo{orders: make(map[int64]*order.Order)}
}

func (r *MemoryOrderRepo) Create(_ context.Context, ord *order.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *ord
	r.orders[ord.OrderID] = &clone
	r.seq = append(r.seq, ord.OrderID)
	return nil
}

func (r *MemoryOrderRepo) GetByOrderID(_ context.Context, orderID int64) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ord, ok := r.orders[orderID]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	clone := *ord
	return &clone, nil
}

func (r *MemoryOrderRepo) ListByAccount(_ context.Context, accountID int64, limit int) ([]*order.Order, error) {
	return r.list(func(o *order.Order) bool { return o.AccountID == accountID }, limit)
}

func (r *MemoryOrderRepo) ListByAccountAndSymbol(_ context.Context, accountID int64, symbol string, limit int) ([]*order.Order, error) {
	return r.list(func(o *order.Order) bool {
		return o.AccountID == accountID && o.Symbol == symbol
	}, limit)
}

func (r *MemoryOrderRepo) list(match func(*order.Order) bool, limit int) ([]*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*order.Order
	// 新单在前
	for i := len(r.seq) - 1; i >= 0; i-- {
		ord := r.orders[r.seq[i]]
		if match(ord) {
			clone := *ord
			out = append(out, &clone)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *MemoryOrderRepo) UpdateStatus(_ context.Context, orderID int64, status order.Status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ord, ok := r.orders[orderID]
	if !ok {
		return order.ErrOrderNotFound
	}
	ord.Status = status
	ord.Reason = reason
	ord.UpdatedAt = time.Now().UnixMilli()
	return nil
}

// =============================================================================
// MemoryInstrumentRepo
// =============================================================================

// MemoryInstrumentRepo 内存标的存储
type MemoryInstrumentRepo struct {
	mu          sync.RWMutex
	instruments map[string]*instrument.Instrument
}

var _ instrument.Repository = (*MemoryInstrumentRepo)(nil)

func NewMemoryInstrumentRepo() *MemoryInstrumentRepo {
	return &MemoryInstrumentRepo{instruments: make(map[string]*instrument.Instrument)}
}

func (r *MemoryInstrumentRepo) Create(_ context.Context, inst *instrument.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.instruments[inst.Symbol]; exists {
		return instrument.ErrSymbolExists
	}
	clone := *inst
	r.instruments[inst.Symbol] = &clone
	return nil
}

func (r *MemoryInstrumentRepo) GetBySymbol(_ context.Context, symbol string) (*instrument.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instruments[symbol]
	if !ok {
		return nil, instrument.ErrSymbolNotFound
	}
	clone := *inst
	return &clone, nil
}

func (r *MemoryInstrumentRepo) Update(_ context.Context, inst *instrument.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instruments[inst.Symbol]; !ok {
		return instrument.ErrSymbolNotFound
	}
	clone := *inst
	r.instruments[inst.Symbol] = &clone
	return nil
}

func (r *MemoryInstrumentRepo) SetShortable(_ context.Context, symbol string, shortable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[symbol]
	if !ok {
		return instrument.ErrSymbolNotFound
	}
	inst.IsShortable = shortable
	return nil
}

func (r *MemoryInstrumentRepo) List(_ context.Context) ([]*instrument.Instrument, error) {
	return r.filter(func(i *instrument.Instrument) bool {
		return i.Status != instrument.StatusDelisted
	})
}

func (r *MemoryInstrumentRepo) ListShortable(_ context.Context) ([]*instrument.Instrument, error) {
	return r.filter(func(i *instrument.Instrument) bool {
		return i.IsShortable && i.Status == instrument.StatusActive
	})
}

func (r *MemoryInstrumentRepo) filter(match func(*instrument.Instrument) bool) ([]*instrument.Instrument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*instrument.Instrument
	for _, inst := range r.instruments {
		if match(inst) {
			clone := *inst
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (r *MemoryInstrumentRepo) Delete(_ context.Context, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instruments[symbol]
	if !ok {
		return instrument.ErrSymbolNotFound
	}
	inst.Status = instrument.StatusDelisted
	return nil
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore 内存原子落账
// 粗粒度锁模拟 DB 事务: 负值守卫失败时持仓不落
type MemoryStore struct {
	mu        sync.Mutex
	positions *MemoryPositionRepo
	accounts  *MemoryAccountRepo
}

var (
	_ Store                 = (*MemoryStore)(nil)
	_ margin.SnapshotReader = (*MemoryStore)(nil)
)

func NewMemoryStore(positions *MemoryPositionRepo, accounts *MemoryAccountRepo) *MemoryStore {
	return &MemoryStore{positions: positions, accounts: accounts}
}

func (s *MemoryStore) Commit(ctx context.Context, pos *position.Position, marginDelta, realizedPnL int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// 先做守卫检查，再写持仓 (模拟回滚语义)
	if marginDelta != 0 {
		if err := s.accounts.ApplyDelta(ctx, pos.AccountID, marginDelta); err != nil {
			return err
		}
	}
	if realizedPnL != 0 {
		if err := s.accounts.AddRealizedPnL(ctx, pos.AccountID, realizedPnL); err != nil {
			// 回滚增量
			_ = s.accounts.ApplyDelta(ctx, pos.AccountID, -marginDelta)
			return err
		}
	}
	return s.positions.Save(ctx, pos)
}

// MarginSnapshot 在落账锁下读 (cache, trueSum)
// 落账会先后改账户和持仓两边，不持锁分两次读会撕裂快照
func (s *MemoryStore) MarginSnapshot(ctx context.Context, accountID int64) (cache, trueSum int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.accounts.GetByAccountID(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	if acct == nil {
		return 0, 0, margin.ErrAccountNotFound
	}

	trueSum, err = s.positions.SumBlockedMargin(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	return acct.BlockedMargin, trueSum, nil
}
