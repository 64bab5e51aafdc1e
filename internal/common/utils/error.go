package utils

import (
	"fmt"
	"runtime/debug"
)

// GetStackWithError は、エラーとスタックトレースを組み合わせて返します
func GetStackWithError(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w\nStack trace:\n%s", err, debug.Stack())
}

// RecoveredError はrecover()で得た値をエラーに変換します
func RecoveredError(v any) error {
	if v == nil {
		return nil
	}
	if err, ok := v.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", v)
}
