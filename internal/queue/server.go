package queue

import (
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/ignite/morpheus/internal/config"
	"github.com/ignite/morpheus/internal/pkg/logger"
)

// aggregationTimeout caps the materialized-view refresh; it scans up to 90
// days of messages.
const aggregationTimeout = 1800 * time.Second

// NewServer builds the asynq consumer with the retry ladder and the
// configured worker pool size.
func NewServer(redisCfg config.RedisConfig, workerCfg config.WorkerConfig) *asynq.Server {
	concurrency := workerCfg.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	return asynq.NewServer(RedisOpt(redisCfg), asynq.Config{
		Concurrency:    concurrency,
		RetryDelayFunc: RetryDelay,
		Logger:         asynqLogger{},
	})
}

// NewScheduler registers the cron jobs: hourly aggregation refresh at minute
// 12, retention sweep every 5 minutes, rate-table refresh daily.
func NewScheduler(redisCfg config.RedisConfig, workerCfg config.WorkerConfig) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(RedisOpt(redisCfg), &asynq.SchedulerOpts{})

	if workerCfg.UpdateAggregationView {
		_, err := scheduler.Register("12 * * * *",
			asynq.NewTask(TypeRefreshAggregation, nil),
			asynq.Timeout(aggregationTimeout), asynq.MaxRetry(0))
		if err != nil {
			return nil, err
		}
	}
	if workerCfg.DeleteOldMessages {
		_, err := scheduler.Register("*/5 * * * *",
			asynq.NewTask(TypeDeleteOldMessages, nil),
			asynq.Timeout(workerCfg.JobTimeout()), asynq.MaxRetry(0))
		if err != nil {
			return nil, err
		}
	}
	_, err := scheduler.Register("45 4 * * *",
		asynq.NewTask(TypeRefreshRates, nil),
		asynq.Timeout(workerCfg.JobTimeout()), asynq.MaxRetry(2))
	if err != nil {
		return nil, err
	}
	return scheduler, nil
}

// asynqLogger routes asynq's internal logging through the structured
// logger so queue noise lands in log aggregation with levels intact.
type asynqLogger struct{}

func (asynqLogger) Debug(args ...any) { logger.Debug(fmt.Sprint(args...), "component", "queue") }
func (asynqLogger) Info(args ...any)  { logger.Info(fmt.Sprint(args...), "component", "queue") }
func (asynqLogger) Warn(args ...any)  { logger.Warn(fmt.Sprint(args...), "component", "queue") }
func (asynqLogger) Error(args ...any) { logger.Error(fmt.Sprint(args...), "component", "queue") }
func (asynqLogger) Fatal(args ...any) {
	logger.Error(fmt.Sprint(args...), "component", "queue")
	log.Fatalln(append([]any{"[Queue] FATAL"}, args...)...)
}
