// Package bot runs the Slack surface of the document agent: it listens for
// app mentions over socket mode and answers them with the same agent runner
// the HTTP API uses, in-process rather than over HTTP.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/snormore/slackmd"

	"github.com/fengtai/docgraph/agent/pkg/agent"
)

const processedEventsMaxAge = 1 * time.Hour

// Runner produces the event stream for one question.
type Runner interface {
	Run(ctx context.Context, question string, history []agent.Message) <-chan agent.StreamEvent
}

// Bot is the socket-mode Slack bot.
type Bot struct {
	log       *slog.Logger
	runner    Runner
	api       *slack.Client
	socket    *socketmode.Client
	botUserID string

	// Processed envelope IDs, to drop Slack's redelivered duplicates.
	processedEvents   map[string]time.Time
	processedEventsMu sync.Mutex

	inFlight     sync.WaitGroup
	acceptingMu  sync.RWMutex
	acceptingNew bool
}

// New creates a bot from SLACK_BOT_TOKEN and SLACK_APP_TOKEN.
func New(log *slog.Logger, runner Runner) (*Bot, error) {
	botToken := os.Getenv("SLACK_BOT_TOKEN")
	appToken := os.Getenv("SLACK_APP_TOKEN")
	if botToken == "" || appToken == "" {
		return nil, fmt.Errorf("SLACK_BOT_TOKEN and SLACK_APP_TOKEN are required")
	}

	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	auth, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack auth test failed: %w", err)
	}

	return &Bot{
		log:             log,
		runner:          runner,
		api:             api,
		socket:          socketmode.New(api),
		botUserID:       auth.UserID,
		processedEvents: map[string]time.Time{},
		acceptingNew:    true,
	}, nil
}

// Start runs the socket-mode client and event loop in the background.
func (b *Bot) Start(ctx context.Context) {
	go func() {
		if err := b.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			b.log.Error("slack socket mode client stopped", "error", err)
		}
	}()
	go b.eventLoop(ctx)
	go b.cleanupLoop(ctx)
	b.log.Info("slack bot started", "bot_user_id", b.botUserID)
}

// Stop stops accepting new events and waits for in-flight replies.
func (b *Bot) Stop(timeout time.Duration) {
	b.acceptingMu.Lock()
	b.acceptingNew = false
	b.acceptingMu.Unlock()

	done := make(chan struct{})
	go func() {
		b.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.log.Info("slack bot stopped gracefully")
	case <-time.After(timeout):
		b.log.Warn("slack bot shutdown timed out")
	}
}

func (b *Bot) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-b.socket.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			payload, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			b.socket.Ack(*evt.Request)

			if evt.Request != nil && !b.markProcessed(evt.Request.EnvelopeID) {
				continue
			}
			if !b.accepting() {
				continue
			}

			if mention, ok := payload.InnerEvent.Data.(*slackevents.AppMentionEvent); ok {
				b.inFlight.Add(1)
				go func() {
					defer b.inFlight.Done()
					b.handleMention(ctx, mention)
				}()
			}
		}
	}
}

func (b *Bot) accepting() bool {
	b.acceptingMu.RLock()
	defer b.acceptingMu.RUnlock()
	return b.acceptingNew
}

// markProcessed reports whether the envelope is new.
func (b *Bot) markProcessed(envelopeID string) bool {
	if envelopeID == "" {
		return true
	}
	b.processedEventsMu.Lock()
	defer b.processedEventsMu.Unlock()
	if _, seen := b.processedEvents[envelopeID]; seen {
		return false
	}
	b.processedEvents[envelopeID] = time.Now()
	return true
}

func (b *Bot) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(processedEventsMaxAge / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-processedEventsMaxAge)
			b.processedEventsMu.Lock()
			for id, seen := range b.processedEvents {
				if seen.Before(cutoff) {
					delete(b.processedEvents, id)
				}
			}
			b.processedEventsMu.Unlock()
		}
	}
}

func (b *Bot) handleMention(ctx context.Context, mention *slackevents.AppMentionEvent) {
	question := b.stripMention(mention.Text)
	if question == "" {
		return
	}

	threadTS := mention.ThreadTimeStamp
	if threadTS == "" {
		threadTS = mention.TimeStamp
	}

	runCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	var answer strings.Builder
	var errText string
	for event := range b.runner.Run(runCtx, question, nil) {
		switch event.Type {
		case agent.EventToken:
			answer.WriteString(event.Token)
		case agent.EventError:
			errText = event.Err
		}
	}

	text := answer.String()
	if errText != "" && text == "" {
		text = errText
	}
	if text == "" {
		return
	}

	_, _, err := b.api.PostMessageContext(runCtx, mention.Channel,
		slack.MsgOptionText(slackmd.Convert(text), false),
		slack.MsgOptionTS(threadTS),
	)
	if err != nil {
		b.log.Error("failed to post slack reply", "channel", mention.Channel, "error", err)
	}
}

func (b *Bot) stripMention(text string) string {
	text = strings.ReplaceAll(text, fmt.Sprintf("<@%s>", b.botUserID), "")
	return strings.TrimSpace(text)
}
