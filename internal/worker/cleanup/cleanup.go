// Package cleanup は認証監査ログの自動削除ジョブを提供する。
// 保持期間（デフォルト14日）を超過したauth_eventsを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/clientportal/internal/metrics"
)

// DefaultRetentionDays は監査ログのデフォルト保持日数。
const DefaultRetentionDays = 14

// Purger は指定日時より古い監査ログを削除する。repository.AuthEventRepositoryが実装する。
type Purger interface {
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した監査ログの自動削除ジョブ。
// 削除対象がなくてもエラーにならないため、何度実行しても結果は同じになる。
type CleanupJob struct {
	purger        Purger
	logger        *slog.Logger
	collector     metrics.MetricsCollector
	now           func() time.Time
	RetentionDays int
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionDaysが0以下の場合はデフォルト値を使う。
func NewCleanupJob(purger Purger, logger *slog.Logger, collector metrics.MetricsCollector, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &CleanupJob{
		purger:        purger,
		logger:        logger,
		collector:     collector,
		now:           time.Now,
		RetentionDays: retentionDays,
	}
}

// Run は保持期間を超過した監査ログを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().AddDate(0, 0, -j.RetentionDays)

	deletedCount, err := j.purger.DeleteOlderThan(ctx, before)
	if err != nil {
		j.logger.Error("監査ログクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("監査ログクリーンアップの実行に失敗: %w", err)
	}
	j.collector.RecordAuthEventsPurged(deletedCount)

	duration := time.Since(start)
	j.logger.Info("監査ログクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// Schedule はintervalごとにRunを実行する。ctxがキャンセルされるまでブロックする。
// 起動直後に1回実行する。個々の実行の失敗はログに記録して次回に持ち越す。
func (j *CleanupJob) Schedule(ctx context.Context, interval time.Duration) {
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("監査ログクリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
