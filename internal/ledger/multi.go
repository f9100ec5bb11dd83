package ledger

import (
	"context"

	"go.uber.org/multierr"

	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

// Multi 扇出到多个账本，单个失败不影响其他
type Multi []types.TradeLedger

// Append 写入所有账本并合并错误
func (m Multi) Append(ctx context.Context, event types.LedgerEvent) error {
	var err error
	for _, l := range m {
		err = multierr.Append(err, l.Append(ctx, event))
	}
	return err
}
