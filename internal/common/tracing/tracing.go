package tracing

import (
	"log"
	"os"

	"github.com/aws/aws-xray-sdk-go/xray"
)

// AddMetadata はセグメントにメタデータを追加します
// セグメントが存在しない場合や追加に失敗した場合もログを出すだけで処理は続行します
func AddMetadata(seg *xray.Segment, key string, value any) {
	if seg == nil {
		return
	}
	if err := seg.AddMetadata(key, value); err != nil {
		log.Printf("Failed to add %s metadata: %v", key, err)
	}
}

// Close はエラーの有無に応じてセグメントを閉じます
func Close(seg *xray.Segment, err error) {
	if seg == nil {
		return
	}
	seg.Close(err)
}

// Configure はX-Rayの送信先を設定します
// 設定に失敗した場合はデフォルト設定で再設定します
func Configure(enabled bool) error {
	if !enabled {
		return nil
	}
	if err := xray.Configure(xray.Config{
		DaemonAddr:     "127.0.0.1:2000", // X-Rayデーモンのアドレス
		ServiceVersion: "1.0.0",
	}); err != nil {
		log.Printf("Failed to configure X-Ray: %v", err)
		if configErr := xray.Configure(xray.Config{}); configErr != nil {
			return configErr
		}
	}
	os.Setenv("AWS_XRAY_CONTEXT_MISSING", "LOG_ERROR")
	return nil
}
