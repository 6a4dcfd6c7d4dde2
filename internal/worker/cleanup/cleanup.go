// Package cleanup は期限切れセッションの掃除ジョブを提供する。
// 期限切れまたは無効化済みのセッションを一定間隔で削除する。
// 掃除は結果整合でよく、実行中のログインやリクエスト認証と並行して動いてよい。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/chatgate/internal/metrics"
)

// DefaultInterval は掃除の既定の実行間隔。
const DefaultInterval = time.Hour

// Sweeper は期限切れセッションを削除し、件数を返す。
// session.Store が実装する。
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// CleanupJob は期限切れセッションの掃除ジョブ。
// 冪等であり、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	sweeper Sweeper
	logger  *slog.Logger
	metrics metrics.MetricsCollector
}

// NewCleanupJob は新しいCleanupJobを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewCleanupJob(sweeper Sweeper, logger *slog.Logger, collector metrics.MetricsCollector) *CleanupJob {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &CleanupJob{
		sweeper: sweeper,
		logger:  logger,
		metrics: collector,
	}
}

// Run は期限切れまたは無効化済みのセッションを1回削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.sweeper.SweepExpired(ctx)
	if err != nil {
		j.logger.Error("session sweep failed",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("session sweep failed: %w", err)
	}
	j.metrics.RecordSessionsSwept(deleted)

	duration := time.Since(start)
	j.logger.Info("session sweep completed",
		slog.Int64("deleted_count", deleted),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

// Start は起動直後に1回、その後intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("session sweeper started",
		slog.Duration("interval", interval),
	)

	// エラーはRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
