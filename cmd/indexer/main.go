package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	zerosvc "github.com/zeromicro/go-zero/core/service"

	"openbook-indexer/internal/api"
	"openbook-indexer/internal/config"
	"openbook-indexer/internal/consts"
	"openbook-indexer/internal/ledger"
	"openbook-indexer/internal/logic/backfill"
	"openbook-indexer/internal/logic/core"
	"openbook-indexer/internal/logic/slotmonitor"
	"openbook-indexer/internal/logic/watcher"
	"openbook-indexer/internal/snapshot"
	"openbook-indexer/internal/svc"
	"openbook-indexer/pkg/logger"
)

var configFile = flag.String("f", "etc/indexer.yaml", "the config file")

func main() {
	defer func() {
		if r := recover(); r != nil {
			logx.Errorf("panic: %+v\nstack: %s", r, debug.Stack())
			logger.Sync()
			os.Exit(1)
		}
	}()

	flag.Parse()

	var c config.Config
	conf.MustLoad(*configFile, &c)

	if err := logger.Init(c.LogConf.ToLogOption()); err != nil {
		panic(err)
	}

	if err := run(c); err != nil {
		logx.Errorf("索引器启动失败: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// run 启动阶段的错误返回给 main，运行期错误只记日志
func run(c config.Config) error {
	sc, err := svc.NewServiceContext(c)
	if err != nil {
		return fmt.Errorf("服务上下文初始化失败: %w", err)
	}
	defer sc.Close()

	// 启动探测：拿不到 slot 说明 RPC 不可用，直接退出
	probeCtx, cancel := context.WithTimeout(context.Background(), c.Ledger.RequestTimeout())
	slot, err := sc.Conn.GetSlot(probeCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("连接 %s 失败: %w", c.Ledger.RpcEndpoint, err)
	}
	logx.Infof("已连接 %s, 当前 slot: %d", c.Ledger.RpcEndpoint, slot)

	// 市场扫描失败不致命，后续账户变更会再次触发
	if n, err := sc.Registry.Load(context.Background()); err != nil {
		logx.Errorf("初始市场扫描失败，以空注册表启动: %v", err)
	} else {
		logx.Infof("初始市场扫描完成: %d 个市场", n)
	}

	w := watcher.New(sc.Conn, sc.ProgramID, sc.Registry, sc.Processor.Handle, watcher.Options{
		Concurrency:         c.Workers.Concurrency,
		ResubscribeInterval: c.ResubscribeInterval(),
		AccountFilter:       ledger.AccountFilter{DataSize: c.Ledger.MarketDataSize},
		OnNewMarket: func(m core.Market) {
			logx.Infof("新市场上线: %s base=%s quote=%s", m.Name, m.BaseAsset, m.QuoteAsset)
		},
	})
	if err := w.Open(context.Background()); err != nil {
		return err
	}

	slots := slotmonitor.New(sc.Conn, sc.Processor, 0, c.Ledger.RequestTimeout())

	sg := zerosvc.NewServiceGroup()
	if sc.Archiver != nil {
		sg.Add(sc.Archiver)
	}
	sg.Add(w)
	sg.Add(slots)
	sg.Add(api.NewServer(c.Api, sc.Registry, sc.Store, sc.Processor, slots))
	if c.Backfill.Enabled {
		sg.Add(backfill.New(sc.Conn, sc.ProgramID, sc.Processor.Handle, c.Backfill))
	}

	logx.Infof("索引器启动: program=%s, 并发=%d, cpu=%d", sc.ProgramID, c.Workers.Concurrency, consts.CpuCount)

	// 各服务的 Start 均立即返回
	sg.Start()

	// 等待退出信号
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logx.Info("Shutting down services...")
	sg.Stop()

	if c.Snapshot.Enabled {
		path, err := snapshot.Write(c.Snapshot.Dir, snapshot.Build(sc.RunID, sc.Registry, sc.Store), time.Now())
		if err != nil {
			logx.Errorf("写入快照失败: %v", err)
		} else {
			logx.Infof("快照已写入: %s (%d 条事件)", path, sc.Store.Len())
		}
	}
	return nil
}
