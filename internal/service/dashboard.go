package service

import (
	"context"
	"math"
	"time"

	"github.com/teresa-solution/fiscal-compliance-service/internal/model"
)

// declarationDueDay is the day of the following month the D406 is due.
const declarationDueDay = 25

const recentSubmissions = 5

type Deadline struct {
	Period        string    `json:"period"`
	DueDate       time.Time `json:"due_date"`
	DaysRemaining int       `json:"days_remaining"`
}

type Dashboard struct {
	Connection         *ConnectionStatus  `json:"connection"`
	UnreadMessages     int                `json:"unread_messages"`
	PendingSubmissions int                `json:"pending_submissions"`
	RecentSubmissions  []model.Submission `json:"recent_submissions"`
	Deadline           Deadline           `json:"deadline"`
}

func (c *Compliance) Dashboard(ctx context.Context, tenantID string) (*Dashboard, error) {
	conn, err := c.tokens.ConnectionStatus(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	unread, err := c.inbox.UnreadCount(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	pending, err := c.subs.CountOpenSubmissions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	recent, err := c.subs.ListSubmissions(ctx, tenantID, model.SubmissionFilter{Limit: recentSubmissions})
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		Connection:         conn,
		UnreadMessages:     unread,
		PendingSubmissions: pending,
		RecentSubmissions:  recent,
		Deadline:           NextDeadline(c.clock.Now()),
	}, nil
}

// NextDeadline returns the next D406 due date on or after now's day. Up to
// and including the 25th the previous month is due; afterwards the current
// month is.
func NextDeadline(now time.Time) Deadline {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	due := time.Date(now.Year(), now.Month(), declarationDueDay, 0, 0, 0, 0, now.Location())
	if today.After(due) {
		due = due.AddDate(0, 1, 0)
	}
	period := due.AddDate(0, -1, 0)
	return Deadline{
		Period:        period.Format("2006-01"),
		DueDate:       due,
		DaysRemaining: int(math.Round(due.Sub(today).Hours() / 24)),
	}
}
