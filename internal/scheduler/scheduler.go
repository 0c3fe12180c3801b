// Package scheduler SLA 점검과 무응답 스윕을 주기 실행한다.
package scheduler

import (
	"context"
	"time"

	"github.com/afformationceo-debug/csflow-sub002/internal/config"
	"github.com/afformationceo-debug/csflow-sub002/internal/lock"
	"github.com/afformationceo-debug/csflow-sub002/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// 잡 이름 = 중복 실행 방지 락 키
const (
	jobSLACheck = "sla_check"
	jobSweep    = "stale_sweep"

	jobLockTTL = 10 * time.Minute
)

// Scheduler cron 기반 잡 러너. 여러 인스턴스가 떠 있어도 락 프로바이더로
// 잡당 한 인스턴스만 실행한다.
type Scheduler struct {
	cron    *cron.Cron
	sla     *services.SLAService
	sweeper *services.SweeperService
	locks   lock.Provider
	cfg     config.SchedulerConfig
	logger  *logrus.Logger
}

func New(sla *services.SLAService, sweeper *services.SweeperService, locks lock.Provider, cfg config.SchedulerConfig, logger *logrus.Logger) *Scheduler {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		cron:    cron.New(),
		sla:     sla,
		sweeper: sweeper,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start 잡 등록 후 cron 시작
func (s *Scheduler) Start() error {
	slaSpec := s.cfg.SLACheckSpec
	if slaSpec == "" {
		slaSpec = "*/5 * * * *"
	}
	sweepSpec := s.cfg.SweepSpec
	if sweepSpec == "" {
		sweepSpec = "0 * * * *"
	}

	if _, err := s.cron.AddFunc(slaSpec, func() {
		s.runLocked(jobSLACheck, func(ctx context.Context) error {
			_, err := s.sla.RunSLACheck(ctx)
			return err
		})
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(sweepSpec, func() {
		s.runLocked(jobSweep, func(ctx context.Context) error {
			_, err := s.sweeper.Sweep(ctx, s.cfg.SweepThresholdMins)
			return err
		})
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Infof("Scheduler started: sla_check %q, sweep %q", slaSpec, sweepSpec)
	return nil
}

// Stop 실행 중인 잡이 끝날 때까지 기다린다
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// runLocked 잡 락을 잡은 인스턴스만 실행. 이전 주기가 아직 돌고 있으면
// 이번 주기는 건너뛴다.
func (s *Scheduler) runLocked(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), jobLockTTL)
	defer cancel()

	key := lock.JobKey(name)
	token, acquired, err := s.locks.Acquire(ctx, key, jobLockTTL)
	if err != nil {
		s.logger.Errorf("Failed to acquire %s job lock: %v", name, err)
		return
	}
	if !acquired {
		s.logger.Debugf("Job %s already running elsewhere, skipping this tick", name)
		return
	}
	defer func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warnf("Failed to release %s job lock: %v", name, err)
		}
	}()

	if err := fn(ctx); err != nil {
		s.logger.Errorf("Job %s failed: %v", name, err)
	}
}
