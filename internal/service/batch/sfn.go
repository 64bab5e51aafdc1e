package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
)

// SFNAPI はStep Functionsのタスク結果通知APIです
type SFNAPI interface {
	SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error)
	SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error)
}

// Reporter はバッチの実行結果を呼び出し元のワークフローへ返します
type Reporter interface {
	Report(ctx context.Context, report Report) error
	Fail(ctx context.Context, cause error) error
}

// SFNReporter はStep Functionsのタスクトークンに結果を返します
type SFNReporter struct {
	client    SFNAPI
	taskToken string
}

func NewSFNReporter(client SFNAPI, taskToken string) *SFNReporter {
	return &SFNReporter{client: client, taskToken: taskToken}
}

// Report はレポートがOKならタスク成功、そうでなければタスク失敗として通知します
func (r *SFNReporter) Report(ctx context.Context, report Report) error {
	if r.taskToken == "" {
		return fmt.Errorf("SFN_TASK_TOKEN is not set in config")
	}

	output, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if !report.OK {
		_, err := r.client.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
			TaskToken: aws.String(r.taskToken),
			Error:     aws.String("ReconciliationJobFailed"),
			Cause:     aws.String(string(output)),
		})
		if err != nil {
			return fmt.Errorf("failed to send task failure: %w", err)
		}
		log.Printf("Sent task failure with report: %s", string(output))
		return nil
	}

	if _, err := r.client.SendTaskSuccess(ctx, &sfn.SendTaskSuccessInput{
		TaskToken: aws.String(r.taskToken),
		Output:    aws.String(string(output)),
	}); err != nil {
		return fmt.Errorf("failed to send task success: %w", err)
	}
	log.Printf("Successfully sent task success with report: %s", string(output))
	return nil
}

// Fail はジョブを実行する前に失敗したことを通知します
func (r *SFNReporter) Fail(ctx context.Context, cause error) error {
	_, err := r.client.SendTaskFailure(ctx, &sfn.SendTaskFailureInput{
		TaskToken: aws.String(r.taskToken),
		Error:     aws.String("Batch process failed"),
		Cause:     aws.String(cause.Error()),
	})
	if err != nil {
		return fmt.Errorf("failed to send task failure: %w", err)
	}
	return nil
}

// LogReporter はローカル環境向けに結果をログへ出力します
type LogReporter struct{}

func (LogReporter) Report(ctx context.Context, report Report) error {
	output, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	log.Printf("Local environment detected. Skipping Step Functions notification: %s", string(output))
	return nil
}

func (LogReporter) Fail(ctx context.Context, cause error) error {
	log.Printf("Local environment detected. Skipping Step Functions failure notification: %v", cause)
	return nil
}
