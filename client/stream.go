package client

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strings"

	"marketplace-inbox/domain"
	"marketplace-inbox/errors"
	"marketplace-inbox/runtime"
)

var streamPaths = map[runtime.ChannelKind]string{
	runtime.ChannelConversation: "/api/stream/conversations",
	runtime.ChannelList:         "/api/stream/list",
}

// Stream holds one realtime channel open and calls onUpdate for every delta.
// It returns nil once ctx is done, ErrSubscriptionClosed when another
// subscriber took the slot, and ErrSlowConsumer when the server dropped the
// stream: the caller must then refetch a snapshot before streaming again.
func (a *API) Stream(ctx context.Context, kind runtime.ChannelKind, onUpdate func(domain.ConversationUpdate)) error {
	path, ok := streamPaths[kind]
	if !ok {
		return fmt.Errorf("%w: unknown channel %q", errors.ErrValidation, kind)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")
	request.Header.Set("Authorization", "Bearer "+a.token)

	response, err := a.http.Do(request)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: opening stream: %v", errors.ErrTransient, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return responseError(response)
	}

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case line == "":
			if err := a.dispatch(name, data, onUpdate); err != nil {
				return err
			}
			name, data = "", ""
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: reading stream: %v", errors.ErrTransient, err)
	}
	return fmt.Errorf("%w: stream ended by server", errors.ErrTransient)
}

func (a *API) dispatch(name, data string, onUpdate func(domain.ConversationUpdate)) error {
	switch name {
	case "update":
		var update domain.ConversationUpdate
		if err := json.Unmarshal([]byte(data), &update); err != nil {
			a.log.Warn("Skipping malformed update", "error", err)
			return nil
		}
		onUpdate(update)
	case "closed":
		var closed struct {
			Reason string `json:"reason"`
		}
		_ = json.Unmarshal([]byte(data), &closed)
		if closed.Reason == "resync" {
			return errors.ErrSlowConsumer
		}
		return errors.ErrSubscriptionClosed
	}
	return nil
}
