package alerting

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricewatch/internal/config"
)

type recordingMailer struct {
	to, subject, body string
	calls             int
	err               error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.calls++
	m.to, m.subject, m.body = to, subject, body
	return m.err
}

func sampleNotification() Notification {
	t0 := time.Date(2025, 1, 14, 9, 30, 0, 0, time.UTC)
	return Notification{
		ProductID:    11223344,
		ProductName:  "11223344",
		CurrentPrice: decimal.RequireFromString("90"),
		HighestPrice: decimal.RequireFromString("100"),
		LowestPrice:  decimal.RequireFromString("90"),
		History: []PricePoint{
			{RecordedAt: t0.Add(time.Hour), Price: decimal.RequireFromString("90")},
			{RecordedAt: t0, Price: decimal.RequireFromString("100")},
		},
	}
}

func TestRenderIncludesAggregatesAndHistoryInOrder(t *testing.T) {
	body, err := NewRenderer().Render(sampleNotification())
	require.NoError(t, err)

	assert.Contains(t, body, "11223344")
	assert.Contains(t, body, "<strong>90.00</strong>")
	assert.Contains(t, body, "100.00")

	newest := strings.Index(body, "2025-01-14 10:30")
	oldest := strings.Index(body, "2025-01-14 09:30")
	require.NotEqual(t, -1, newest)
	require.NotEqual(t, -1, oldest)
	assert.Less(t, newest, oldest, "history keeps newest-first order")
}

func TestRenderEscapesProductName(t *testing.T) {
	note := sampleNotification()
	note.ProductName = "<script>x</script>"
	body, err := NewRenderer().Render(note)
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>x</script>")
}

func TestRenderEmptyHistory(t *testing.T) {
	note := sampleNotification()
	note.History = nil
	body, err := NewRenderer().Render(note)
	require.NoError(t, err)
	assert.Contains(t, body, "No price history recorded yet.")
}

func TestEmailNotifierDeliver(t *testing.T) {
	mailer := &recordingMailer{}
	notifier := NewEmailNotifier(nil, mailer, "", zerolog.Nop())

	require.NoError(t, notifier.Deliver(context.Background(), "a@x.com", sampleNotification()))
	assert.Equal(t, 1, mailer.calls)
	assert.Equal(t, "a@x.com", mailer.to)
	assert.Equal(t, "Price History Update", mailer.subject)
	assert.Contains(t, mailer.body, "Price history")
}

func TestEmailNotifierTransportError(t *testing.T) {
	relayDown := errors.New("connection refused")
	notifier := NewEmailNotifier(nil, &recordingMailer{err: relayDown}, "subject", zerolog.Nop())

	err := notifier.Deliver(context.Background(), "a@x.com", sampleNotification())
	require.Error(t, err)
	assert.ErrorIs(t, err, relayDown)

	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, "a@x.com", deliveryErr.Recipient)
	assert.Equal(t, "send", deliveryErr.Op)
}

func TestEmailNotifierRenderError(t *testing.T) {
	broken := template.Must(template.New("broken").Parse(`{{ .Missing.Field }}`))
	mailer := &recordingMailer{}
	notifier := NewEmailNotifier(NewRendererFromTemplate(broken), mailer, "subject", zerolog.Nop())

	err := notifier.Deliver(context.Background(), "a@x.com", sampleNotification())
	var deliveryErr *DeliveryError
	require.True(t, errors.As(err, &deliveryErr))
	assert.Equal(t, "render", deliveryErr.Op)
	assert.Zero(t, mailer.calls)
}

func TestBuildMessageRejectsInvalidRecipient(t *testing.T) {
	_, err := buildMessage("alerts@example.com", "not an address", "s", "<p>b</p>")
	assert.Error(t, err)

	msg, err := buildMessage("alerts@example.com", "a@x.com", "s", "<p>b</p>")
	require.NoError(t, err)
	assert.Len(t, msg.GetTo(), 1)
}

func TestNewSMTPMailerRequiresCredentials(t *testing.T) {
	_, err := NewSMTPMailer(config.MailConfig{SMTP: config.SMTPConfig{Host: "smtp.example.com", Username: "bot"}})
	assert.Error(t, err)

	mailer, err := NewSMTPMailer(config.MailConfig{
		From: "alerts@example.com",
		SMTP: config.SMTPConfig{Host: "smtp.example.com", Username: "bot", Password: "secret"},
	})
	require.NoError(t, err)
	assert.NotNil(t, mailer)
}

func TestMailgunMailerSend(t *testing.T) {
	var gotPath, gotTo, gotSubject, gotHTML string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotTo = r.FormValue("to")
		gotSubject = r.FormValue("subject")
		gotHTML = r.FormValue("html")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"Queued. Thank you.","id":"<20250114.1@mg.example.com>"}`))
	}))
	defer srv.Close()

	mailer, err := NewMailgunMailer(config.MailConfig{
		From:    "alerts@mg.example.com",
		Timeout: time.Second,
		Mailgun: config.MailgunConfig{Domain: "mg.example.com", APIKey: "key-test", APIBase: srv.URL + "/v3"},
	})
	require.NoError(t, err)

	require.NoError(t, mailer.Send(context.Background(), "a@x.com", "Price History Update", "<p>hi</p>"))
	assert.Equal(t, "/v3/mg.example.com/messages", gotPath)
	assert.Equal(t, "a@x.com", gotTo)
	assert.Equal(t, "Price History Update", gotSubject)
	assert.Equal(t, "<p>hi</p>", gotHTML)
}

func TestMailgunMailerSendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Invalid private key"}`))
	}))
	defer srv.Close()

	mailer, err := NewMailgunMailer(config.MailConfig{
		From:    "alerts@mg.example.com",
		Mailgun: config.MailgunConfig{Domain: "mg.example.com", APIKey: "bad", APIBase: srv.URL + "/v3"},
	})
	require.NoError(t, err)
	assert.Error(t, mailer.Send(context.Background(), "a@x.com", "s", "<p>b</p>"))
}
