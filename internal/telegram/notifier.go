package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kirillm/orb-bot/internal/domain"
)

const (
	maxMessageLength = 4096
	queueSize        = 64
)

// Sender отправляет сообщение в Telegram. Реализуется *tgbotapi.BotAPI.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier асинхронно отправляет уведомления в чат оператора.
// Notify никогда не блокирует: при переполнении очереди сообщение
// пишется в лог и отбрасывается.
type Notifier struct {
	sender  Sender
	chatID  int64
	logger  *zap.Logger
	limiter *rate.Limiter

	queue     chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewBotNotifier авторизует бота и запускает очередь отправки
func NewBotNotifier(token string, chatID int64, logger *zap.Logger) (*Notifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return NewNotifier(bot, chatID, logger), nil
}

// NewNotifier запускает очередь отправки поверх sender
func NewNotifier(sender Sender, chatID int64, logger *zap.Logger) *Notifier {
	n := &Notifier{
		sender: sender,
		chatID: chatID,
		logger: logger,
		// Telegram допускает около одного сообщения в секунду на чат
		limiter: rate.NewLimiter(rate.Limit(1), 3),
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	go n.loop()
	return n
}

// Notify ставит сообщение в очередь
func (n *Notifier) Notify(message string) {
	defer func() {
		// очередь уже закрыта
		if r := recover(); r != nil {
			n.logger.Warn("notification after close", zap.String("message", message))
		}
	}()

	select {
	case n.queue <- message:
	default:
		n.logger.Warn("notification queue full, dropping message", zap.String("message", message))
	}
}

func (n *Notifier) loop() {
	defer close(n.done)

	for text := range n.queue {
		for _, part := range splitMessage(text, maxMessageLength) {
			if err := n.limiter.Wait(context.Background()); err != nil {
				n.logger.Warn("telegram limiter", zap.Error(err))
			}
			msg := tgbotapi.NewMessage(n.chatID, part)
			if _, err := n.sender.Send(msg); err != nil {
				n.logger.Error("failed to send telegram message",
					zap.Error(err),
					zap.String("message", part))
			}
		}
	}
}

// Close закрывает очередь и ждет отправки оставшихся сообщений или отмены ctx
func (n *Notifier) Close(ctx context.Context) error {
	n.closeOnce.Do(func() { close(n.queue) })

	select {
	case <-n.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram queue not drained: %w", ctx.Err())
	}
}

// LogNotifier пишет уведомления в лог, когда Telegram не настроен
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier создает notifier без транспорта
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify пишет сообщение в лог
func (l *LogNotifier) Notify(message string) {
	l.logger.Info("notification", zap.String("message", message))
}

// Close ничего не делает
func (l *LogNotifier) Close(context.Context) error {
	return nil
}

var (
	_ domain.Notifier = (*Notifier)(nil)
	_ domain.Notifier = (*LogNotifier)(nil)
)

// splitMessage разбивает длинное сообщение на части
func splitMessage(text string, maxLength int) []string {
	if len(text) <= maxLength {
		return []string{text}
	}

	var messages []string
	lines := strings.Split(text, "\n")
	currentMessage := ""

	for _, line := range lines {
		for len(line) > maxLength {
			if currentMessage != "" {
				messages = append(messages, currentMessage)
				currentMessage = ""
			}
			messages = append(messages, line[:maxLength])
			line = line[maxLength:]
		}
		if len(currentMessage)+len(line)+1 > maxLength {
			messages = append(messages, currentMessage)
			currentMessage = line
		} else {
			if currentMessage != "" {
				currentMessage += "\n"
			}
			currentMessage += line
		}
	}

	if currentMessage != "" {
		messages = append(messages, currentMessage)
	}

	return messages
}
