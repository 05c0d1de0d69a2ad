package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"

	"marketplace-inbox/auth"
	"marketplace-inbox/client"
)

type BaseHTTPSuite struct {
	suite.Suite
	Config Config
	tokens auth.TokenIssuer
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseHTTPSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.BaseURL == "" {
		s.T().Skip("INBOX_URL not set, skipping end-to-end suite")
	}
	s.tokens, err = auth.NewTokenIssuer(s.Config.JWTSecret, time.Hour)
	s.Require().NoError(err, "JWT_SECRET must match the server's")
}

// API returns a client acting as userID whose calls are logged in the test output.
func (s *BaseHTTPSuite) API(t *testing.T, name, userID string) *client.API {
	header := fmt.Sprintf("  ====== %s (%s) ======", name, userID)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	token, err := s.tokens.GenerateToken(userID)
	s.Require().NoError(err)
	httpClient := &http.Client{Transport: &loggingTransport{t: t, debugJSON: s.Config.DebugJSON}}
	return client.NewAPI(logs.GetLoggerFromLevel(slog.LevelWarn), s.Config.BaseURL, token, client.WithHTTPClient(httpClient))
}

// WithUser runs fn as userID within a bounded context.
func (s *BaseHTTPSuite) WithUser(name, userID string, fn func(ctx context.Context, api *client.API)) {
	api := s.API(s.T(), name, userID)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	fn(ctx, api)
}

type loggingTransport struct {
	t         *testing.T
	debugJSON bool
}

func (l *loggingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	start := time.Now()
	response, err := http.DefaultTransport.RoundTrip(r)

	logBuilder := strings.Builder{}
	if err != nil {
		fmt.Fprintf(&logBuilder, "HTTP %s %s failed in %v: %v", r.Method, r.URL.Path, time.Since(start), err)
		l.t.Log(logBuilder.String())
		return nil, err
	}
	fmt.Fprintf(&logBuilder, "HTTP %s %s [%d] in %v", r.Method, r.URL.RequestURI(), response.StatusCode, time.Since(start))

	streaming := strings.HasPrefix(response.Header.Get("Content-Type"), "text/event-stream")
	if l.debugJSON && !streaming {
		body, readErr := io.ReadAll(response.Body)
		_ = response.Body.Close()
		if readErr != nil {
			return nil, readErr
		}
		response.Body = io.NopCloser(bytes.NewReader(body))
		fmt.Fprintln(&logBuilder, "\nRESPONSE:")
		fmt.Fprintln(&logBuilder, string(body))
	}
	l.t.Log(logBuilder.String())
	return response, nil
}
