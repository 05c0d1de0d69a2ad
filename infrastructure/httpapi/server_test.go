package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"marketplace-inbox/attachment"
	"marketplace-inbox/auth"
	"marketplace-inbox/domain"
	"marketplace-inbox/domain/event"
	"marketplace-inbox/infrastructure/blob"
	"marketplace-inbox/infrastructure/directory"
	"marketplace-inbox/observability"
	"marketplace-inbox/repositories"
	"marketplace-inbox/runtime"
	"marketplace-inbox/runtime/workers"
	"marketplace-inbox/search"
	"marketplace-inbox/services"
)

type testServer struct {
	*httptest.Server
	tokens auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := directory.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	req.NoError(err)
	req.NoError(directory.Migrate(gormDB))
	req.NoError(gormDB.Create(&directory.UserRecord{ID: "alice", DisplayName: "Alice", Email: "alice@example.com"}).Error)
	req.NoError(gormDB.Create(&directory.UserRecord{ID: "bob", Name: "Bob Owner", Email: "bob@example.com"}).Error)
	req.NoError(gormDB.Create(&directory.PropertyRecord{ID: "p1", OwnerID: "bob", Title: "Casa en Posadas"}).Error)
	t.Cleanup(func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	dir := directory.NewDirectory(gormDB, log)

	blobs, err := blob.NewDiskStore(log, t.TempDir(), "http://files.test/files", []byte("blob-secret"))
	req.NoError(err)
	index, err := search.Open(log, "")
	req.NoError(err)
	t.Cleanup(func() { _ = index.Close() })

	plans := domain.DefaultPlanCatalog()
	free := plans[domain.PlanFree]
	free.DailyCount = 1
	plans[domain.PlanFree] = free

	conversations := repositories.NewConversationRepository(db, log)
	messages := repositories.NewMessageRepository(db, log, 50)
	attachments := repositories.NewAttachmentRepository(db, log)
	store := attachment.NewStore(log, blobs, repositories.NewBadgerQuotaLedger(db, log), attachments, time.Hour)

	events := make(chan event.DomainEvent, 64)
	publisher := runtime.NewChannelPublisher(log, events)
	inbox := services.NewInboxService(log, conversations, dir)
	notifier := runtime.NewNotifier(log, runtime.NewRegistry(log, 16), inbox)
	metrics := observability.NewMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	fanout := workers.NewEventFanout(log, events, time.Second).Add(notifier, index, metrics)
	go func() { _ = fanout.Run(ctx) }()

	tokens, err := auth.NewTokenIssuer("a-test-secret-that-is-long-enough!!", time.Hour)
	req.NoError(err)

	server := NewServer(log, Config{HeartbeatInterval: time.Hour}, Deps{
		Tokens:        tokens,
		Conversations: services.NewConversationService(log, conversations, dir, publisher),
		Messages:      services.NewMessageService(log, conversations, messages, dir, plans, nil, store, publisher),
		Inbox:         inbox,
		Attachments:   services.NewAttachmentService(log, conversations, dir, plans, store),
		Notifier:      notifier,
		Search:        index,
		Files:         blobs,
		Metrics:       metrics,
	})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, tokens: tokens}
}

func (s *testServer) do(t *testing.T, userID, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	request, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	request.Header.Set("Content-Type", "application/json")
	s.authorize(t, request, userID)
	response, err := s.Client().Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func (s *testServer) authorize(t *testing.T, request *http.Request, userID string) {
	t.Helper()
	if userID == "" {
		return
	}
	token, err := s.tokens.GenerateToken(userID)
	require.NoError(t, err)
	request.Header.Set("Authorization", "Bearer "+token)
}

func decode[T any](t *testing.T, response *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(response.Body).Decode(&out))
	return out
}

func (s *testServer) resolve(t *testing.T, from, to, propertyID string) services.Resolution {
	t.Helper()
	response := s.do(t, from, http.MethodPost, "/api/conversations", jsonBody{"targetUserId": to, "propertyId": propertyID})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, response.StatusCode)
	return decode[services.Resolution](t, response)
}

type jsonBody = map[string]any

func TestServer_RequiresBearerToken(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	response := ts.do(t, "", http.MethodGet, "/api/conversations", nil)
	req.Equal(http.StatusUnauthorized, response.StatusCode)

	request, err := http.NewRequest(http.MethodGet, ts.URL+"/api/conversations", nil)
	req.NoError(err)
	request.Header.Set("Authorization", "Bearer forged.token.value")
	response, err = ts.Client().Do(request)
	req.NoError(err)
	defer response.Body.Close()
	req.Equal(http.StatusUnauthorized, response.StatusCode)

	health := ts.do(t, "", http.MethodGet, "/healthz", nil)
	req.Equal(http.StatusOK, health.StatusCode)
}

func TestServer_ResolveConversation(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)

	// Given alice starts a property inquiry
	response := ts.do(t, "alice", http.MethodPost, "/api/conversations", jsonBody{"targetUserId": "bob", "propertyId": "p1"})
	req.Equal(http.StatusCreated, response.StatusCode)
	created := decode[services.Resolution](t, response)
	req.False(created.Existing)

	// When bob resolves the same thread from his side
	response = ts.do(t, "bob", http.MethodPost, "/api/conversations", jsonBody{"targetUserId": "alice", "propertyId": "p1"})

	// Then the same conversation is returned
	req.Equal(http.StatusOK, response.StatusCode)
	again := decode[services.Resolution](t, response)
	req.True(again.Existing)
	req.Equal(created.ConversationID, again.ConversationID)

	// A community thread between the same users is a different conversation
	community := ts.resolve(t, "alice", "bob", "")
	req.NotEqual(created.ConversationID, community.ConversationID)

	for _, body := range []jsonBody{
		{"targetUserId": "alice"},
		{"targetUserId": ""},
		{"targetUserId": "bob", "context": "community", "propertyId": "p1"},
		{"targetUserId": "bob", "context": "property"},
		{"targetUserId": "bob", "context": "auction"},
	} {
		response = ts.do(t, "alice", http.MethodPost, "/api/conversations", body)
		req.Equal(http.StatusBadRequest, response.StatusCode, "body=%v", body)
	}
	response = ts.do(t, "alice", http.MethodPost, "/api/conversations", jsonBody{"targetUserId": "ghost"})
	req.Equal(http.StatusNotFound, response.StatusCode)
}

func TestServer_MessagesAndList(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	conversation := ts.resolve(t, "alice", "bob", "p1")
	path := "/api/conversations/" + conversation.ConversationID

	// Given alice sends two messages
	response := ts.do(t, "alice", http.MethodPost, path+"/messages", jsonBody{"body": "Hola, sigue disponible?", "clientRef": "ref-1"})
	req.Equal(http.StatusCreated, response.StatusCode)
	first := decode[domain.Message](t, response)
	req.Equal("ref-1", first.ClientRef)
	response = ts.do(t, "alice", http.MethodPost, path+"/messages", jsonBody{"body": "Podria visitarla el lunes?"})
	req.Equal(http.StatusCreated, response.StatusCode)

	// A retry with the same clientRef does not duplicate
	response = ts.do(t, "alice", http.MethodPost, path+"/messages", jsonBody{"body": "Hola, sigue disponible?", "clientRef": "ref-1"})
	req.Equal(http.StatusCreated, response.StatusCode)
	req.Equal(first.ID, decode[domain.Message](t, response).ID)

	// When bob lists his inbox with a stale validator
	request, err := http.NewRequest(http.MethodGet, ts.URL+"/api/conversations?filter=properties", nil)
	req.NoError(err)
	ts.authorize(t, request, "bob")
	request.Header.Set("If-None-Match", `"stale"`)
	listResponse, err := ts.Client().Do(request)
	req.NoError(err)
	defer listResponse.Body.Close()

	// Then the list is fresh and uncacheable
	req.Equal(http.StatusOK, listResponse.StatusCode)
	req.Equal("no-store", listResponse.Header.Get("Cache-Control"))
	page := decode[services.ListPage](t, listResponse)
	req.Len(page.Conversations, 1)
	summary := page.Conversations[0]
	req.Equal("Casa en Posadas", summary.Title)
	req.Equal("Alice", summary.OtherUserName)
	req.Equal("Alice: Podria visitarla el lunes?", summary.LastMessageSnippet)
	req.Equal(2, summary.UnreadCount)

	// Community filter excludes it
	response = ts.do(t, "bob", http.MethodGet, "/api/conversations?filter=community", nil)
	req.Empty(decode[services.ListPage](t, response).Conversations)
	response = ts.do(t, "bob", http.MethodGet, "/api/conversations?filter=sold", nil)
	req.Equal(http.StatusBadRequest, response.StatusCode)

	// Pages of messages come oldest first
	response = ts.do(t, "bob", http.MethodGet, path+"/messages?limit=1", nil)
	req.Equal(http.StatusOK, response.StatusCode)
	messages := decode[services.Page](t, response)
	req.Len(messages.Messages, 1)
	req.Equal(first.ID, messages.Messages[0].ID)
	req.NotEmpty(messages.NextCursor)
	response = ts.do(t, "bob", http.MethodGet, path+"/messages?limit=1&cursor="+url.QueryEscape(messages.NextCursor), nil)
	next := decode[services.Page](t, response)
	req.Len(next.Messages, 1)
	req.Equal("Podria visitarla el lunes?", next.Messages[0].Body)

	// Reading clears the unread count
	response = ts.do(t, "bob", http.MethodPost, path+"/read", nil)
	req.Equal(http.StatusNoContent, response.StatusCode)
	response = ts.do(t, "bob", http.MethodGet, "/api/conversations", nil)
	req.Zero(decode[services.ListPage](t, response).Conversations[0].UnreadCount)

	// Hiding removes it from bob's list only
	response = ts.do(t, "bob", http.MethodDelete, path, nil)
	req.Equal(http.StatusNoContent, response.StatusCode)
	response = ts.do(t, "bob", http.MethodGet, "/api/conversations", nil)
	req.Empty(decode[services.ListPage](t, response).Conversations)
	response = ts.do(t, "alice", http.MethodGet, "/api/conversations", nil)
	req.Len(decode[services.ListPage](t, response).Conversations, 1)

	// Empty messages and outsiders are refused
	response = ts.do(t, "alice", http.MethodPost, path+"/messages", jsonBody{"body": "   "})
	req.Equal(http.StatusBadRequest, response.StatusCode)
	response = ts.do(t, "alice", http.MethodPost, "/api/conversations/nope/messages", jsonBody{"body": "hi"})
	req.Equal(http.StatusNotFound, response.StatusCode)
}

func pngFile(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))))
	return buf.Bytes()
}

func (s *testServer) upload(t *testing.T, userID, conversationID, name, mimeType string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, name))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	request, err := http.NewRequest(http.MethodPost, s.URL+"/api/conversations/"+conversationID+"/attachments", &body)
	require.NoError(t, err)
	request.Header.Set("Content-Type", writer.FormDataContentType())
	s.authorize(t, request, userID)
	response, err := s.Client().Do(request)
	require.NoError(t, err)
	t.Cleanup(func() { _ = response.Body.Close() })
	return response
}

func TestServer_AttachmentFlow(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	conversation := ts.resolve(t, "bob", "alice", "")
	content := pngFile(t)

	// Given bob uploads a photo
	response := ts.upload(t, "bob", conversation.ConversationID, "patio.png", "image/png", content)
	req.Equal(http.StatusCreated, response.StatusCode)
	uploaded := decode[domain.Attachment](t, response)
	req.Equal("patio.png", uploaded.FileName)
	req.Equal(4, *uploaded.Width)

	// Then the signed url serves the bytes
	signed, err := url.Parse(uploaded.StorageURL)
	req.NoError(err)
	response = ts.do(t, "", http.MethodGet, signed.RequestURI(), nil)
	req.Equal(http.StatusOK, response.StatusCode)
	served, err := io.ReadAll(response.Body)
	req.NoError(err)
	req.Equal(content, served)

	query := signed.Query()
	query.Set("sig", strings.Repeat("0", 64))
	response = ts.do(t, "", http.MethodGet, signed.Path+"?"+query.Encode(), nil)
	req.Equal(http.StatusUnauthorized, response.StatusCode)

	// And the free plan's single daily upload is now used
	response = ts.do(t, "bob", http.MethodGet, "/api/attachments/limits", nil)
	req.Equal(http.StatusOK, response.StatusCode)
	req.Equal("0", response.Header.Get("X-RateLimit-Remaining"))
	limits := decode[services.LimitsInfo](t, response)
	req.Equal(domain.PlanFree, limits.PlanTier)
	req.Equal(1, limits.Used)

	response = ts.upload(t, "bob", conversation.ConversationID, "patio2.png", "image/png", content)
	req.Equal(http.StatusTooManyRequests, response.StatusCode)
	req.Equal("1", response.Header.Get("X-RateLimit-Limit"))
	req.Equal("0", response.Header.Get("X-RateLimit-Remaining"))
	req.NotEmpty(response.Header.Get("X-RateLimit-Reset"))

	// A disallowed type is refused before the quota check
	response = ts.upload(t, "alice", conversation.ConversationID, "notes.txt", "text/plain", []byte("hello"))
	req.Equal(http.StatusBadRequest, response.StatusCode)

	// When bob sends a message carrying only the photo
	response = ts.do(t, "bob", http.MethodPost, "/api/conversations/"+conversation.ConversationID+"/messages",
		jsonBody{"attachmentIds": []string{uploaded.ID}})
	req.Equal(http.StatusCreated, response.StatusCode)
	sent := decode[domain.Message](t, response)
	req.Len(sent.Attachments, 1)

	// Then alice sees an attachment snippet
	response = ts.do(t, "alice", http.MethodGet, "/api/conversations", nil)
	summaries := decode[services.ListPage](t, response).Conversations
	req.Len(summaries, 1)
	req.Equal("Bob Owner: "+domain.AttachmentSnippet, summaries[0].LastMessageSnippet)
}

type sseEvent struct {
	name string
	data string
}

// readEvents parses a text/event-stream body onto a channel.
func readEvents(body io.Reader) <-chan sseEvent {
	out := make(chan sseEvent, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(body)
		var current sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "":
				if current.name != "" || current.data != "" {
					out <- current
				}
				current = sseEvent{}
			case strings.HasPrefix(line, "event:"):
				current.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				current.data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan sseEvent, name string) sseEvent {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-events:
			require.True(t, ok, "stream closed while waiting for %s", name)
			if e.name == name {
				return e
			}
		case <-timeout:
			require.FailNow(t, "no event", "waited for %s", name)
		}
	}
}

func (s *testServer) openStream(t *testing.T, ctx context.Context, userID, path string) <-chan sseEvent {
	t.Helper()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	s.authorize(t, request, userID)
	response, err := s.Client().Do(request)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.True(t, strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream"))
	t.Cleanup(func() { _ = response.Body.Close() })
	return readEvents(response.Body)
}

func TestServer_ListStreamAndSearch(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	conversation := ts.resolve(t, "alice", "bob", "p1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Given bob watches his list
	events := ts.openStream(t, ctx, "bob", "/api/stream/list")
	nextEvent(t, events, "ready")

	// When alice writes
	response := ts.do(t, "alice", http.MethodPost, "/api/conversations/"+conversation.ConversationID+"/messages",
		jsonBody{"body": "Tiene cochera techada?"})
	req.Equal(http.StatusCreated, response.StatusCode)

	// Then bob receives the row delta with an absolute unread count
	var update domain.ConversationUpdate
	for update.Kind != string(event.MessageAppendedType) {
		req.NoError(json.Unmarshal([]byte(nextEvent(t, events, "update").data), &update))
	}
	req.Equal(conversation.ConversationID, update.ConversationID)
	req.Equal(1, update.UnreadCount)
	req.Equal("Alice: Tiene cochera techada?", update.LastMessage)
	req.NotNil(update.Message)

	// And a second list stream for bob replaces the first one
	ts.openStream(t, ctx, "bob", "/api/stream/list")
	closed := nextEvent(t, events, "closed")
	req.Contains(closed.data, closeReplaced)

	// The indexed message is searchable by both participants only
	req.Eventually(func() bool {
		response := ts.do(t, "bob", http.MethodGet, "/api/search/messages?q=cochera", nil)
		var body struct {
			Results []search.Hit `json:"results"`
		}
		return json.NewDecoder(response.Body).Decode(&body) == nil && len(body.Results) == 1
	}, 2*time.Second, 20*time.Millisecond)
	response = ts.do(t, "bob", http.MethodGet, "/api/search/messages?q=", nil)
	req.Equal(http.StatusBadRequest, response.StatusCode)
}

func TestServer_Presence(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	conversation := ts.resolve(t, "alice", "bob", "p1")
	path := "/api/conversations/" + conversation.ConversationID + "/presence"

	// Given bob has never connected
	presence := decode[domain.Presence](t, ts.do(t, "alice", http.MethodGet, path, nil))
	req.Equal("bob", presence.UserID)
	req.False(presence.IsOnline)
	req.Nil(presence.LastSeen)

	// When bob opens his list stream
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := ts.openStream(t, ctx, "bob", "/api/stream/list")
	nextEvent(t, events, "ready")

	// Then alice sees him online
	presence = decode[domain.Presence](t, ts.do(t, "alice", http.MethodGet, path, nil))
	req.True(presence.IsOnline)

	// And once he disconnects he is offline with a last seen time
	cancel()
	req.Eventually(func() bool {
		p := decode[domain.Presence](t, ts.do(t, "alice", http.MethodGet, path, nil))
		return !p.IsOnline && p.LastSeen != nil
	}, 2*time.Second, 20*time.Millisecond)

	response := ts.do(t, "mallory", http.MethodGet, path, nil)
	req.Equal(http.StatusForbidden, response.StatusCode)
}

func TestServer_Metrics(t *testing.T) {
	req := require.New(t)
	ts := newTestServer(t)
	ts.resolve(t, "alice", "bob", "")

	response := ts.do(t, "", http.MethodGet, "/metrics", nil)
	req.Equal(http.StatusOK, response.StatusCode)
	body, err := io.ReadAll(response.Body)
	req.NoError(err)
	req.Contains(string(body), `inbox_http_request_duration_seconds_count{method="POST",route="/api/conversations",status="201"} 1`)
}
