package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/yuechangmingzou/nofx-engine/internal/utils"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "nofx-engine",
	Short: "Signal generation, risk gating and order lifecycle engine",
	Long: `nofx-engine 在1h结构区间内识别斐波那契回踩，用5m订单流确认后生成信号，
经过组合风控后以 paper / simulation / live 三种模式执行并管理止盈止损。

Examples:
  nofx-engine run                       # 引擎 + 控制面
  nofx-engine once --csv-dir ./data     # 用CSV回放数据跑一轮（simulation）`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
}

func main() {
	err := rootCmd.Execute()
	utils.SyncLogger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
