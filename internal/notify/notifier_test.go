package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stakeregistry/internal/domain"
)

type senderMock struct {
	mock.Mock
}

func (m *senderMock) Send(ctx context.Context, title, message string) error {
	return m.Called(ctx, title, message).Error(0)
}

func (m *senderMock) Name() string { return "mock" }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyEventFiltersByType(t *testing.T) {
	s := &senderMock{}
	s.On("Send", mock.Anything, "Listing challenged", mock.Anything).Return(nil).Once()

	n := NewNotifier([]Sender{s}, []string{"challenge", " exit_finalized "}, discard())
	ctx := context.Background()

	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventChallenge, ChallengeID: 3, Amount: 100}))
	require.NoError(t, n.NotifyEvent(ctx, domain.Event{Type: domain.EventDeposit}))

	s.AssertExpectations(t)
	msg := s.Calls[0].Arguments.String(2)
	assert.Contains(t, msg, "challenge: 3")
	assert.Contains(t, msg, "amount: 100")
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	bad := &senderMock{}
	bad.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))
	good := &senderMock{}
	good.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	n := NewNotifier([]Sender{bad, good}, nil, discard())
	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	good.AssertNumberOfCalls(t, "Send", 1)
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42").WithAPIBase(srv.URL)
	title, msg := FormatEvent(domain.Event{Type: domain.EventExitFinalized, ListingID: common.HexToHash("0x01")})
	require.NoError(t, s.Send(context.Background(), title, msg))
	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "Exit finalized")
}

func TestDiscordSenderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
