package notify

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/bizflow/internal/model"
	"github.com/roach88/bizflow/internal/store"
)

type sentMessage struct {
	from, to, subject, body string
}

type recordingTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (r *recordingTransport) SendEmail(_ context.Context, from, to, subject, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{from, to, subject, body})
	return r.err
}

func (r *recordingTransport) SendWhatsApp(_ context.Context, from, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentMessage{from: from, to: to, body: text})
	return r.err
}

func createTestDispatcher(t *testing.T, tr *recordingTransport) (*Dispatcher, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.AddSender(ctx, model.Sender{
		ID: "s-mail", Owner: "u1", Channel: model.ChannelEmail, Identifier: "sales@example.com", IsDefault: true,
	}))
	require.NoError(t, st.AddSender(ctx, model.Sender{
		ID: "s-wa", Owner: "u1", Channel: model.ChannelWhatsApp, Identifier: "+15550100", IsDefault: true,
	}))

	d := NewDispatcher(st,
		WithEmailTransport(tr),
		WithWhatsAppTransport(tr),
		WithDispatcherClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }),
		WithDispatcherLogger(discardLogger()),
	)
	return d, st
}

func TestDispatcher_SendEmail(t *testing.T) {
	tr := &recordingTransport{}
	d, st := createTestDispatcher(t, tr)

	comm, err := d.Send(context.Background(), Message{
		Channel:   model.ChannelEmail,
		Owner:     "u1",
		Recipient: "buyer@example.com",
		Subject:   "Welcome",
		Body:      "Hello",
		Contact:   model.EntityRef{Type: "Contact", PK: "c1"},
		Rule:      "welcome",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, comm.Status)

	require.Len(t, tr.sent, 1)
	assert.Equal(t, sentMessage{"sales@example.com", "buyer@example.com", "Welcome", "Hello"}, tr.sent[0])

	outbox, err := st.ListCommunications(context.Background())
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, "s-mail", outbox[0].SenderID)
	assert.Equal(t, model.EntityRef{Type: "Contact", PK: "c1"}, outbox[0].Contact)
	assert.Equal(t, "welcome", outbox[0].Rule)
	assert.Equal(t, model.StatusSent, outbox[0].Status)
}

func TestDispatcher_SendWhatsApp(t *testing.T) {
	tr := &recordingTransport{}
	d, _ := createTestDispatcher(t, tr)

	_, err := d.Send(context.Background(), Message{
		Channel: model.ChannelWhatsApp, Owner: "u1", Recipient: "+15550199", Body: "ping",
	})
	require.NoError(t, err)
	require.Len(t, tr.sent, 1)
	assert.Equal(t, "+15550100", tr.sent[0].from)
	assert.Equal(t, "ping", tr.sent[0].body)
}

func TestDispatcher_NoDefaultSender(t *testing.T) {
	tr := &recordingTransport{}
	d, st := createTestDispatcher(t, tr)

	_, err := d.Send(context.Background(), Message{
		Channel: model.ChannelEmail, Owner: "someone-else", Recipient: "x@example.com",
	})
	assert.ErrorIs(t, err, ErrNoDefaultSender)
	assert.Empty(t, tr.sent)

	outbox, err := st.ListCommunications(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outbox)
}

func TestDispatcher_NoRecipient(t *testing.T) {
	tr := &recordingTransport{}
	d, _ := createTestDispatcher(t, tr)

	_, err := d.Send(context.Background(), Message{Channel: model.ChannelEmail, Owner: "u1"})
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, tr.sent)
}

func TestDispatcher_TransportFailureMarksFailed(t *testing.T) {
	tr := &recordingTransport{err: errors.New("smtp: connection refused")}
	d, st := createTestDispatcher(t, tr)

	comm, err := d.Send(context.Background(), Message{
		Channel: model.ChannelEmail, Owner: "u1", Recipient: "buyer@example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	require.NotNil(t, comm)
	assert.Equal(t, model.StatusFailed, comm.Status)

	outbox, err := st.ListCommunications(context.Background())
	require.NoError(t, err)
	require.Len(t, outbox, 1)
	assert.Equal(t, model.StatusFailed, outbox[0].Status)
}
