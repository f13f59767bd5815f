package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// 版本資訊 (由 ldflags 注入)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// SIGINT/SIGTERM 取消所有命令的 context；start 據此優雅關閉
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := Execute(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "heishabridge: %v\n", err)
		os.Exit(1)
	}
}
