package notifier

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// CommandHandler is called when a user command is received.
type CommandHandler func(command string) string

// telegramUpdate represents a Telegram update from long polling.
type telegramUpdate struct {
	UpdateID int `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
	} `json:"message"`
}

// pollTimeout is the long-poll window requested from Telegram, in seconds.
const pollTimeout = 30

// StartPolling begins long-polling for Telegram commands. Blocks until ctx is cancelled.
func (t *TelegramNotifier) StartPolling(ctx context.Context, handler CommandHandler) {
	offset := 0
	client := &http.Client{Timeout: (pollTimeout + 5) * time.Second}
	if t.Client != nil && t.Client.Transport != nil {
		client.Transport = t.Client.Transport
	}

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("telegram polling stopped")
			return
		default:
		}

		apiURL := t.method("getUpdates") + "?offset=" + strconv.Itoa(offset) + "&timeout=" + strconv.Itoa(pollTimeout)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			zap.L().Error("create polling request", zap.Error(err))
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			zap.L().Warn("polling request failed", zap.Error(err))
			if !sleep(ctx, 5*time.Second) {
				return
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			zap.L().Warn("read polling response", zap.Error(err))
			continue
		}

		var result struct {
			OK     bool             `json:"ok"`
			Result []telegramUpdate `json:"result"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			zap.L().Warn("decode polling response", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}

		for _, update := range result.Result {
			offset = update.UpdateID + 1
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			text := strings.TrimSpace(update.Message.Text)
			zap.L().Info("received command", zap.String("text", text))
			reply := handler(text)
			if reply != "" {
				if err := t.Send(ctx, reply); err != nil {
					zap.L().Error("send reply", zap.Error(err))
				}
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
