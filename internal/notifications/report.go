package notifications

import (
	"context"
	"log"

	"github.com/hiremind/interview/internal/domain"
	"github.com/hiremind/interview/internal/store"
)

// TokenSource returns the push tokens registered by a user.
type TokenSource interface {
	GetUserPushTokens(ctx context.Context, userID string) ([]store.DevicePushToken, error)
}

// ReportNotifier tells candidates on their iOS devices that a report is ready.
type ReportNotifier struct {
	tokens TokenSource
	apns   *APNsClient
	logger *log.Logger
}

func NewReportNotifier(tokens TokenSource, apns *APNsClient, logger *log.Logger) *ReportNotifier {
	return &ReportNotifier{tokens: tokens, apns: apns, logger: logger}
}

// ReportReady pushes to every iOS device of the session's user and returns
// the number of notifications delivered.
func (n *ReportNotifier) ReportReady(ctx context.Context, sess domain.Session, res *domain.AnalysisResult) int {
	if n == nil || n.apns == nil || sess.UserID == "" || res == nil {
		return 0
	}

	tokens, err := n.tokens.GetUserPushTokens(ctx, sess.UserID)
	if err != nil {
		n.logger.Printf("push: failed to load tokens for user %s: %v", sess.UserID, err)
		return 0
	}

	sent := 0
	for _, t := range tokens {
		if t.Platform != "ios" {
			continue
		}
		err := n.apns.SendReportReady(t.Token, ReportNotification{
			SessionID:    sess.ID,
			Topic:        sess.Topic,
			OverallScore: res.OverallScore,
		})
		if err == nil {
			sent++
		}
	}
	return sent
}
