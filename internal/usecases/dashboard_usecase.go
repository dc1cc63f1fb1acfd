package usecases

import (
	"context"

	"golang.org/x/sync/errgroup"

	"wa_automation/internal/repository"
)

const usageHistoryDays = 7

// DashboardStats is the overview shown on the dashboard.
type DashboardStats struct {
	Connections       int                     `json:"total_connections"`
	ActiveConnections int                     `json:"active_connections"`
	Triggers          int                     `json:"total_triggers"`
	ActiveTriggers    int                     `json:"active_triggers"`
	SentToday         int                     `json:"messages_sent_today"`
	ReceivedToday     int                     `json:"messages_received_today"`
	History           []repository.DailyUsage `json:"usage_history"`
}

type DashboardUsecase struct {
	conns    *repository.ConnectionRepository
	triggers *repository.TriggerRepository
	usage    *repository.UsageRepository
}

func NewDashboardUsecase(conns *repository.ConnectionRepository, triggers *repository.TriggerRepository, usage *repository.UsageRepository) *DashboardUsecase {
	return &DashboardUsecase{conns: conns, triggers: triggers, usage: usage}
}

func (u *DashboardUsecase) Stats(ctx context.Context, userID int) (*DashboardStats, error) {
	var s DashboardStats
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		s.Connections, s.ActiveConnections, err = u.conns.CountByUser(ctx, userID)
		return err
	})
	g.Go(func() (err error) {
		s.Triggers, s.ActiveTriggers, err = u.triggers.CountForUser(ctx, userID)
		return err
	})
	g.Go(func() (err error) {
		s.SentToday, s.ReceivedToday, err = u.usage.GetTodayUsage(ctx, userID)
		return err
	})
	g.Go(func() (err error) {
		s.History, err = u.usage.GetUsageHistory(ctx, userID, usageHistoryDays)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &s, nil
}
