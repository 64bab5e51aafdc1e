package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/jmoiron/sqlx"
	"github.com/uma-arai/sbcntr-booking/internal/common/tracing"
	"github.com/uma-arai/sbcntr-booking/internal/model"
)

// AuditRepository は予約ステータス遷移の監査ログを記録します
type AuditRepository interface {
	Record(ctx context.Context, tx *sqlx.Tx, entries []model.AuditEntry) error
}

// auditBatchSize は1回のINSERTで書き込む監査ログの最大件数です
// 1行あたり7パラメータのため、Postgresの上限65535を超えないように分割します
const auditBatchSize = 1000

type AuditRepositoryImpl struct {
	db *DB
}

func NewAuditRepository(db *DB) *AuditRepositoryImpl {
	return &AuditRepositoryImpl{db: db}
}

// Record は監査ログをまとめて記録します
// 遷移と同じトランザクションで呼び出すことで、記録に失敗した遷移はロールバックされます
func (r *AuditRepositoryImpl) Record(ctx context.Context, tx *sqlx.Tx, entries []model.AuditEntry) error {
	ctx, seg := xray.BeginSubsegment(ctx, "AuditRepository.Record")
	defer tracing.Close(seg, nil)

	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO booking_audit_logs (
			id, booking_id, from_status, to_status, actor, reason, created_at
		) VALUES (
			:id, :booking_id, :from_status, :to_status, :actor, :reason, :created_at
		)`

	// sqlxのNamedExecはスライスを渡すとbulk insertになる
	for _, batch := range chunkAuditEntries(entries, auditBatchSize) {
		if _, err := sqlx.NamedExecContext(ctx, r.db.querier(tx), query, batch); err != nil {
			tracing.Close(seg, err)
			return fmt.Errorf("failed to record audit logs: %w", err)
		}
	}

	tracing.AddMetadata(seg, "entries", len(entries))
	return nil
}

// chunkAuditEntries は監査ログをsize件ごとに分割します
func chunkAuditEntries(entries []model.AuditEntry, size int) [][]model.AuditEntry {
	var chunks [][]model.AuditEntry
	for start := 0; start < len(entries); start += size {
		end := start + size
		if end > len(entries) {
			end = len(entries)
		}
		chunks = append(chunks, entries[start:end])
	}
	return chunks
}
