package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-booking/internal/app"
	"github.com/uma-arai/sbcntr-booking/internal/common/config"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/common/utils"
	"github.com/uma-arai/sbcntr-booking/internal/service/batch"
)

const (
	projectName = "sbcntr-booking-reconcile"
)

func main() {
	// コマンドライン引数のパース
	timeout := flag.Duration("timeout", 5*time.Minute, "バッチ処理のタイムアウト時間")
	schedule := flag.String("schedule", batch.ScheduleMorning, "実行するスケジュール (morning, evening)")
	jobNames := flag.String("jobs", "", "スケジュールの代わりに実行するジョブ名 (カンマ区切り)")
	flag.Parse()

	// 最後の引数として渡されたタスクトークンを取得
	// ENV=LOCALの場合はタスクトークンを取得しない
	local := os.Getenv("ENV") == "LOCAL"
	taskToken := "DUMMY_TASK_TOKEN"
	if !local {
		if flag.NArg() == 0 || flag.Arg(flag.NArg()-1) == "" {
			log.Fatalf("Task token is required")
		}
		taskToken = flag.Arg(flag.NArg() - 1)
	}

	// 設定の読み込み
	cfg, err := config.LoadConfig(taskToken)
	if err != nil {
		log.Fatalf("Failed to load config: %v\nStack trace:\n%s", err, debug.Stack())
	}

	if err := tracing.Configure(cfg.EnableTracing); err != nil {
		log.Fatalf("Failed to configure default X-Ray settings: %v", err)
	}

	// Step Functionsクライアントの初期化
	var reporter batch.Reporter = batch.LogReporter{}
	if !local {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("Failed to load AWS config: %v\nStack trace:\n%s", err, debug.Stack())
		}
		reporter = batch.NewSFNReporter(sfn.NewFromConfig(awsCfg), cfg.SFN.TaskToken)
	}

	os.Exit(execute(cfg, reporter, *schedule, *jobNames, *timeout))
}

func execute(cfg *config.Config, reporter batch.Reporter, schedule, jobNames string, timeout time.Duration) int {
	// コンテキストの作成
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// X-Rayセグメントの作成
	if cfg.EnableTracing {
		var seg *xray.Segment
		ctx, seg = xray.BeginSegment(ctx, projectName)
		defer seg.Close(nil)

		tracing.AddMetadata(seg, "schedule", schedule)
		tracing.AddMetadata(seg, "timeout", timeout.String())
	}

	return run(ctx, cancel, cfg, reporter, schedule, jobNames, timeout)
}

func run(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, reporter batch.Reporter, schedule, jobNames string, timeout time.Duration) int {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fail(reporter, fmt.Errorf("failed to create application: %w", err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Printf("Failed to close application: %v", err)
		}
	}()

	var names []string
	if jobNames != "" {
		names = strings.Split(jobNames, ",")
	}
	jobs, err := a.Jobs.Select(schedule, names)
	if err != nil {
		return fail(reporter, err)
	}

	// シグナルハンドリングの設定
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		if sig, ok := <-sigChan; ok {
			log.Printf("Received signal: %v", sig)
			cancel()
		}
	}()
	defer signal.Stop(sigChan)

	// バッチ処理の実行
	report, err := utils.RunWithTimeout(ctx, timeout, func(ctx context.Context) (batch.Report, error) {
		return batch.RunJobs(ctx, jobs), nil
	})
	if err != nil {
		return fail(reporter, utils.GetStackWithError(err))
	}

	if err := reporter.Report(context.Background(), report); err != nil {
		log.Printf("Failed to report batch result: %v", err)
		return 1
	}
	if !report.OK {
		log.Printf("Batch process finished with %d failed jobs", len(report.Failed()))
		return 1
	}
	log.Println("Batch process completed successfully")
	return 0
}

func fail(reporter batch.Reporter, err error) int {
	log.Printf("Batch process failed: %v", err)
	// タイムアウトしたcontextでは通知できないため新しいcontextを使う
	if reportErr := reporter.Fail(context.Background(), err); reportErr != nil {
		log.Printf("Failed to send task failure: %v\nStack trace:\n%s", reportErr, debug.Stack())
	}
	return 1
}
