package utils

import (
	"context"
	"fmt"
	"time"
)

// 指定されたタイムアウト時間内で処理を実行し、その結果を返す
// タイムアウトを超えた場合は、コンテキストをキャンセルしてエラーを返す
func RunWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value T
		err   error
	}
	resultChan := make(chan result, 1)

	go func() {
		v, err := fn(ctx)
		resultChan <- result{value: v, err: err}
	}()

	// 処理の完了またはタイムアウトを待機
	select {
	case r := <-resultChan:
		return r.value, r.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("batch process timed out after %v: %w", timeout, ctx.Err())
	}
}
