package batch

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/uma-arai/sbcntr-booking/internal/common/apperror"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/common/utils"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Job は名前付きの定期ジョブです
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result は1つのジョブの実行結果です
type Result struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report はジョブ一覧の実行結果です
// OKはすべてのジョブが成功した場合のみtrueになります
type Report struct {
	OK      bool     `json:"ok"`
	Results []Result `json:"results"`
}

// Failed は失敗したジョブの結果を返します
func (r Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if res.Status != StatusOK {
			failed = append(failed, res)
		}
	}
	return failed
}

// RunJobs はジョブを順番に実行し、結果をまとめて返します
// あるジョブが失敗やpanicをしても後続のジョブは実行されます
func RunJobs(ctx context.Context, jobs []Job) Report {
	ctx, seg := xray.BeginSubsegment(ctx, "RunJobs")
	defer tracing.Close(seg, nil)

	report := Report{OK: true, Results: make([]Result, 0, len(jobs))}
	for _, job := range jobs {
		startTime := time.Now()
		err := runJob(ctx, job)
		duration := time.Since(startTime)

		if err != nil {
			err = apperror.Wrap(apperror.KindTransientJobFailure, err, "job %s failed", job.Name)
			log.Printf("[%s] failed after %v: %v", job.Name, duration, err)
			report.OK = false
			report.Results = append(report.Results, Result{Name: job.Name, Status: StatusError, Error: err.Error()})
			continue
		}

		log.Printf("[%s] completed in %v", job.Name, duration)
		report.Results = append(report.Results, Result{Name: job.Name, Status: StatusOK})
	}

	tracing.AddMetadata(seg, "report", report)
	return report
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = utils.RecoveredError(p)
		}
	}()
	return job.Run(ctx)
}
