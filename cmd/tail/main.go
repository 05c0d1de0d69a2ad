// Command tail follows a user's conversation list from the terminal: it prints
// the current snapshot, then every realtime update as it arrives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"

	"marketplace-inbox/client"
	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
	"marketplace-inbox/runtime"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

type Config struct {
	BaseURL  string        `envconfig:"INBOX_URL" default:"http://localhost:8080"`
	Token    string        `envconfig:"INBOX_TOKEN" required:"true"`
	Filter   string        `envconfig:"INBOX_FILTER" default:"all"`
	Colours  bool          `envconfig:"INBOX_COLOURS" default:"true"`
	Backoff  time.Duration `envconfig:"INBOX_RECONNECT_BACKOFF" default:"2s"`
	LogLevel string        `envconfig:"LOG_LEVEL" default:"WARN"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "tail: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	filter, ok := domain.ParseListFilter(config.Filter)
	if !ok {
		return exitConfig, fmt.Errorf("invalid INBOX_FILTER %q", config.Filter)
	}
	color.Enable = config.Colours

	log := logs.GetLoggerFromString(config.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewAPI(log, config.BaseURL, config.Token)
	t := &tail{api: api, inbox: client.NewInbox(), filter: filter}

	for {
		if err := t.snapshot(ctx); err != nil {
			if !errors.Is(err, errors.ErrTransient) {
				return exitRuntime, err
			}
			color.Warn.Printf("snapshot failed: %v\n", err)
		} else {
			err = api.Stream(ctx, runtime.ChannelList, t.apply)
			switch {
			case err == nil:
				return exitOK, nil
			case errors.Is(err, errors.ErrSubscriptionClosed):
				color.Warn.Println("list stream taken over by another client")
				return exitOK, nil
			case errors.Is(err, errors.ErrSlowConsumer):
				color.Warn.Println("dropped for falling behind, resyncing")
				continue
			case !errors.Is(err, errors.ErrTransient):
				return exitRuntime, err
			}
			color.Warn.Printf("stream interrupted: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return exitOK, nil
		case <-time.After(config.Backoff):
		}
	}
}

type tail struct {
	api    *client.API
	inbox  *client.Inbox
	filter domain.ListFilter
	resync bool
}

func (t *tail) snapshot(ctx context.Context) error {
	conversations, err := t.api.ListConversations(ctx, t.filter)
	if err != nil {
		return err
	}
	t.inbox.Replace(conversations)
	t.resync = false

	color.Bold.Printf("%d conversations, %d unread\n", len(conversations), t.inbox.TotalUnread())
	for _, summary := range t.inbox.View(t.filter, "") {
		printSummary(summary)
	}
	return nil
}

func (t *tail) apply(update domain.ConversationUpdate) {
	switch t.inbox.Apply(update) {
	case client.Stale:
		return
	case client.NeedsSnapshot:
		// Rebuilt from a fresh snapshot while the stream stays open.
		if !t.resync {
			color.Warn.Printf("unknown conversation %s, refreshing\n", update.ConversationID)
			t.resync = true
			if err := t.snapshot(context.Background()); err != nil {
				color.Error.Printf("refresh failed: %v\n", err)
			}
		}
		return
	}

	stamp := color.Gray.Sprint(time.Now().Format("15:04:05"))
	if update.Hidden {
		fmt.Printf("%s %s %s\n", stamp, color.Magenta.Sprint("hidden"), update.ConversationID)
		return
	}
	summary, ok := t.inbox.Get(update.ConversationID)
	if !ok {
		return
	}
	fmt.Printf("%s %s ", stamp, color.Cyan.Sprint(update.Kind))
	printSummary(summary)
}

func printSummary(s domain.ConversationSummary) {
	unread := ""
	if s.UnreadCount > 0 {
		unread = color.Green.Sprintf(" (%d)", s.UnreadCount)
	}
	badge := color.Yellow.Sprintf("[%s]", s.Type)
	fmt.Printf("%s %s · %s%s\n    %s\n", badge, s.Title, s.OtherUserName, unread, s.LastMessageSnippet)
}
