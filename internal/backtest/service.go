package backtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"vela/internal/logger"
	"vela/internal/market"
)

// ServiceConfig 配置 FetchService。
type ServiceConfig struct {
	Store           *Store
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service 负责补齐本地 K 线数据：对请求区间做完整性检查，只对
// 缺口发起远端拉取，按批写库并维护任务进度。
type Service struct {
	store           *Store
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	slots   chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

// fetchTask 是一次后台补数的执行上下文，提交时刻就固定下来。
type fetchTask struct {
	jobID  string
	params FetchParams
	tf     Timeframe
	source CandleSource
	gaps   []Gap
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store 不能为空")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("至少需要一个数据源")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(ratePerSec, maxBatch),
		slots:           make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultExchange == "" {
		for k := range svc.sources {
			svc.defaultExchange = k
			break
		}
	}
	return svc, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

func (s *Service) resolveSource(exchange string) (CandleSource, error) {
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[strings.ToLower(exchange)]
	if src == nil {
		return nil, fmt.Errorf("未知数据源: %s", exchange)
	}
	return src, nil
}

// SubmitFetch 提交拉取任务；区间已完整时任务立即完成，不碰远端。
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("symbol 不能为空")
	}
	tf, err := ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	src, err := s.resolveSource(params.Exchange)
	if err != nil {
		return FetchJob{}, err
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("start 与 end 需要构成区间")
	}
	params.Start = start
	params.End = end

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, start, end)
	if err != nil {
		return FetchJob{}, err
	}
	completed := report.Present
	if completed > report.Expected {
		completed = report.Expected
	}
	now := time.Now()
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     report.Expected,
		Completed: completed,
		StartedAt: now,
		UpdatedAt: now,
		Missing:   append([]Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[fetch] 任务 %s 提交：%s %s [%d,%d] 预计=%d 缺口=%d",
		job.ID, params.Symbol, params.Timeframe, start, end, report.Expected, len(report.Gaps))

	if report.Expected == 0 || report.Complete() {
		s.finishJob(job.ID, JobStatusDone, "数据已完整，无需重新拉取", report.Gaps, nil)
		return s.mustSnapshot(job.ID), nil
	}

	go s.work(fetchTask{
		jobID:  job.ID,
		params: params,
		tf:     tf,
		source: src,
		gaps:   append([]Gap{}, report.Gaps...),
	})
	return s.mustSnapshot(job.ID), nil
}

// work 占一个并发槽位，逐缺口补数，结束后复检完整性定终态。
func (s *Service) work(task fetchTask) {
	ctx := s.ctx()
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		s.finishJob(task.jobID, JobStatusFailed, "服务已关闭", nil, nil)
		return
	}
	defer func() { <-s.slots }()

	logger.Infof("[fetch] 任务 %s 开始，缺口=%d", task.jobID, len(task.gaps))
	s.patchJob(task.jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	var warnings []string
	for _, gap := range task.gaps {
		ws, err := s.fillGap(ctx, task, gap)
		warnings = append(warnings, ws...)
		if err != nil {
			s.finishJob(task.jobID, JobStatusFailed, err.Error(), nil, warnings)
			return
		}
	}

	report, err := s.store.CheckIntegrity(ctx, task.params.Symbol, task.params.Timeframe,
		task.tf, task.params.Start, task.params.End)
	if err != nil {
		warnings = append(warnings, "完整性检查失败: "+err.Error())
		s.finishJob(task.jobID, JobStatusFailed, "完整性检查失败", nil, warnings)
		return
	}
	status, message := JobStatusDone, "拉取完成"
	if !report.Complete() {
		status, message = JobStatusPartial, "已完成，但仍存在缺口"
	}
	s.finishJob(task.jobID, status, message, report.Gaps, warnings)
	logger.Infof("[fetch] 任务 %s 完成，状态=%s，缺口=%d", task.jobID, status, len(report.Gaps))
}

// fillGap 按批补一个缺口。远端返回空批说明该段历史不存在（上市
// 前的区间），记为警告而不是失败。
func (s *Service) fillGap(ctx context.Context, task fetchTask, gap Gap) ([]string, error) {
	step := task.tf.durationMillis()
	cursor := gap.From
	var warnings []string

	for cursor <= gap.To {
		if err := ctx.Err(); err != nil {
			return warnings, err
		}
		if err := s.limiter.Wait(ctx); err != nil {
			return warnings, err
		}
		batch := int((gap.To-cursor)/step) + 1
		if batch < 1 {
			batch = 1
		}
		if batch > s.maxBatch {
			batch = s.maxBatch
		}
		data, err := task.source.Fetch(ctx, FetchRequest{
			Symbol:   task.params.Symbol,
			Interval: task.tf.SourceInterval,
			Start:    cursor,
			End:      gap.To,
			Limit:    batch,
		})
		if err != nil {
			return warnings, fmt.Errorf("%s 拉取失败: %w", task.source.Name(), err)
		}
		if len(data) == 0 {
			warnings = append(warnings, fmt.Sprintf("区间 [%d,%d] 拉取为空", cursor, gap.To))
			return warnings, nil
		}
		inserted, err := s.store.InsertCandles(ctx, task.params.Symbol, task.params.Timeframe, data)
		if err != nil {
			return warnings, fmt.Errorf("写入失败: %w", err)
		}
		s.patchJob(task.jobID, func(j *FetchJob) {
			j.Completed += int64(inserted)
			if j.Completed > j.Total {
				j.Completed = j.Total
			}
			j.UpdatedAt = time.Now()
		})
		if inserted == 0 {
			// 远端在重复返回已有数据，推进不动就放弃这个缺口
			return warnings, nil
		}
		cursor = data[len(data)-1].OpenTime + step
	}
	return warnings, nil
}

// finishJob 写入任务终态。
func (s *Service) finishJob(id, status, message string, gaps []Gap, warnings []string) {
	s.patchJob(id, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]Gap{}, gaps...)
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) patchJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

func (s *Service) mustSnapshot(id string) FetchJob {
	job, _ := s.JobSnapshot(id)
	return job
}

// JobSnapshot 返回任务副本。
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot 返回所有任务的拷贝列表。
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	return out
}

// ManifestInfo 读取本地 manifest。
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	if symbol == "" || timeframe == "" {
		return Manifest{}, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// QueryCandles 读取指定区间 K 线。
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) (market.Candles, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end, limit)
}

// RangeCandles 读取闭区间内的全部 K 线。
func (s *Service) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) (market.Candles, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("symbol/timeframe 不能为空")
	}
	return s.store.RangeCandles(ctx, symbol, timeframe, start, end)
}
