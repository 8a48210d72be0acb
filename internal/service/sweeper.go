package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtlprog/taskflow/internal/config"
	"github.com/mtlprog/taskflow/internal/domain"
	"github.com/mtlprog/taskflow/internal/workflow"
)

// Sweeper drives the system-actor hops of the workflow: promoting QA Ready
// tasks into review, finalizing Approved tasks, and raising the one-shot
// overdue alert for tasks past their due date.
type Sweeper struct {
	svc      *TaskService
	interval time.Duration
}

// NewSweeper creates a Sweeper over the given task service.
func NewSweeper(svc *TaskService, cfg config.Sweep) *Sweeper {
	return &Sweeper{svc: svc, interval: cfg.Interval}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("sweeper started", "interval", s.interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass. Each task is handled independently; a failure on one
// task is logged and does not abort the pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	s.advance(ctx, domain.TaskStatusQAReady, workflow.PickForQA{})
	s.advance(ctx, domain.TaskStatusApproved, workflow.Finalize{})
	s.alertRedZone(ctx)
}

// advance applies a system command to every task currently in the given
// status. The row lock inside apply makes the stale-read window harmless:
// a task moved by a concurrent writer just fails the transition check.
func (s *Sweeper) advance(ctx context.Context, from domain.TaskStatus, cmd workflow.Command) {
	tasks, err := s.svc.taskRepo.FindByStatuses(ctx, from)
	if err != nil {
		slog.Error("sweeper: list tasks failed", "status", from, "error", err)
		return
	}

	for _, task := range tasks {
		if _, err := s.svc.apply(ctx, task.ID, cmd, nil); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) ||
				errors.Is(err, domain.ErrTaskNotFound) ||
				errors.Is(err, domain.ErrConflictStale) {
				continue
			}
			slog.Error("sweeper: advance failed", "task_id", task.ID, "status", from, "error", err)
			continue
		}
		slog.Info("sweeper: task advanced", "task_id", task.ID, "from", from)
	}
}

// alertRedZone emits red_zone_alert for overdue tasks that have not been
// alerted yet. The red_zone_at stamp and the event land in one transaction,
// so the alert fires at most once per task.
func (s *Sweeper) alertRedZone(ctx context.Context) {
	tasks, err := s.svc.taskRepo.FindRedZone(ctx)
	if err != nil {
		slog.Error("sweeper: red zone scan failed", "error", err)
		return
	}

	for _, task := range tasks {
		if err := s.alertOne(ctx, task.ID); err != nil {
			slog.Error("sweeper: red zone alert failed", "task_id", task.ID, "error", err)
		}
	}
}

func (s *Sweeper) alertOne(ctx context.Context, taskID string) error {
	tx, err := s.svc.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && err.Error() != "tx is closed" {
			slog.Error("failed to rollback transaction", "error", err)
		}
	}()

	task, err := s.svc.taskRepo.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	// Recheck under lock: a concurrent sweep may have alerted already.
	if task.Status == domain.TaskStatusCompleted {
		return nil
	}

	res := s.svc.engine.RedZoneAlert(task)

	if err := s.svc.taskRepo.Save(ctx, tx, res.Task, task.EventSeq); err != nil {
		return err
	}
	if err := s.svc.taskRepo.MarkRedZone(ctx, tx, taskID); err != nil {
		return err
	}
	for _, event := range res.Events {
		if err := s.svc.eventRepo.Create(ctx, tx, event); err != nil {
			return fmt.Errorf("create event: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.svc.publish(res.Events)
	slog.Info("sweeper: red zone alert", "task_id", taskID)

	return nil
}
