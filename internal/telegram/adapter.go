// internal/telegram/adapter.go
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/arcadegent/internal/orchestrator"
	"github.com/user/arcadegent/internal/types"
)

const (
	maxTelegramMessage = 4096
	maxShopsInReply    = 3
)

// Adapter bridges Telegram chats to the run orchestrator. Each chat maps to
// one session; /new rotates it.
type Adapter struct {
	bot      *tgbotapi.BotAPI
	runner   *orchestrator.Orchestrator
	sessions types.SessionStore

	mu     sync.Mutex
	byChat map[int64]types.SessionID
}

// New creates a Telegram adapter.
func New(token string, runner *orchestrator.Orchestrator, sessions types.SessionStore) (*Adapter, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &Adapter{
		bot:      bot,
		runner:   runner,
		sessions: sessions,
		byChat:   make(map[int64]types.SessionID),
	}, nil
}

// Start begins long-polling for Telegram updates.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) sessionFor(chatID int64) types.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.byChat[chatID]
	if !ok {
		id = types.NewSessionID()
		a.byChat[chatID] = id
	}
	return id
}

func (a *Adapter) rotateSession(chatID int64) types.SessionID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := types.NewSessionID()
	a.byChat[chatID] = id
	return id
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	chatID := msg.Chat.ID
	req := &types.ChatRequest{
		SessionID: a.sessionFor(chatID),
		Message:   msg.Text,
	}
	if msg.Location != nil {
		req.Location = &types.Location{
			Lng: msg.Location.Longitude,
			Lat: msg.Location.Latitude,
		}
	}

	resp, err := a.runner.RunTurn(ctx, req)
	if err != nil {
		slog.Error("telegram run failed", "chat_id", chatID, "error", err)
		if errors.Is(err, types.ErrConcurrencyConflict) {
			a.sendResponse(chatID, "Still working on your last message, one moment.")
			return
		}
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
		return
	}
	a.sendResponse(chatID, renderReply(resp))
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! I find arcades and plan routes to them. Try: 'maimai arcades in Shanghai'.")

	case "new":
		a.rotateSession(chatID)
		a.sendResponse(chatID, "Starting a new session. Previous conversation has been archived.")

	case "status":
		id := a.sessionFor(chatID)
		sess, err := a.sessions.Load(ctx, id)
		if err != nil {
			a.sendResponse(chatID, fmt.Sprintf("Session: %s\nMessages: 0", id))
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Session: %s\nMessages: %d", sess.SessionID, sess.TurnCount))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /new, /status")
	}
}

// renderReply appends the top matched shops under the assistant text.
func renderReply(resp *types.ChatResponse) string {
	var b strings.Builder
	b.WriteString(resp.Reply)
	for i, shop := range resp.Shops {
		if i >= maxShopsInReply {
			break
		}
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, shop.Name))
		if shop.Address != "" {
			b.WriteString(" - " + shop.Address)
		}
	}
	if resp.Route != nil {
		b.WriteString(fmt.Sprintf("\nRoute: %dm, ~%d min (%s)",
			resp.Route.DistanceM, resp.Route.DurationS/60, resp.Route.Mode))
	}
	return b.String()
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(chatID, part)
		if _, err := a.bot.Send(msg); err != nil {
			slog.Error("telegram send failed", "chat_id", chatID, "error", err)
		}
	}
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
