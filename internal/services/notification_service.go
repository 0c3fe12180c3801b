package services

import (
	"context"

	"github.com/sirupsen/logrus"
)

// 알림 채널
const (
	NotifySlack = "slack"
	NotifyKakao = "kakao"
	NotifyEmail = "email"
	NotifySMS   = "sms"
)

// Notifier fire-and-forget 알림. 실패는 로그만 남기고 파이프라인을 막지 않는다.
type Notifier interface {
	Notify(ctx context.Context, channel string, payload map[string]interface{})
}

// NotificationService 디스패처로 알림 잡을 넘기는 기본 구현
type NotificationService struct {
	dispatcher Dispatcher
	logger     *logrus.Logger
}

func NewNotificationService(dispatcher Dispatcher, logger *logrus.Logger) *NotificationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &NotificationService{dispatcher: dispatcher, logger: logger}
}

func (s *NotificationService) Notify(ctx context.Context, channel string, payload map[string]interface{}) {
	job := &Job{
		Type: JobNotification,
		Data: map[string]interface{}{
			"channel": channel,
			"payload": payload,
		},
	}
	if err := s.dispatcher.Enqueue(ctx, job); err != nil {
		s.logger.Warnf("Failed to enqueue %s notification: %v", channel, err)
	}
}

var _ Notifier = (*NotificationService)(nil)
