package brevo_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/mailflow/pkg/mailer"
	"github.com/dmitrymomot/mailflow/pkg/mailer/brevo"
)

func testEmail() *mailer.Email {
	return &mailer.Email{
		From:    mailer.Address{Name: "Team", Email: "team@example.com"},
		ReplyTo: "support@example.com",
		To:      []mailer.Address{{Name: "Anna", Email: "anna@example.com"}},
		CC:      mailer.Addresses("cc@example.com"),
		BCC:     mailer.Addresses("bcc@example.com"),
		Subject: "Welcome",
		HTML:    "<p>Hi Anna</p>",
		Text:    "Hi Anna",
		Tags:    mailer.Tags{"template": "welcome"},
		Attachments: []mailer.Attachment{
			{Filename: "a.txt", ContentType: "text/plain", Content: []byte("hello")},
		},
	}
}

func TestProvider_Send_Success(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v3/smtp/email", r.URL.Path)
		require.Equal(t, "xkeysib-test", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<202410141200.123@smtp-relay.mailin.fr>"}`))
	}))
	t.Cleanup(srv.Close)

	p := brevo.New(brevo.Config{APIKey: "xkeysib-test", BaseURL: srv.URL})
	id, err := p.Send(context.Background(), testEmail())
	require.NoError(t, err)
	require.Equal(t, "<202410141200.123@smtp-relay.mailin.fr>", id)

	require.Equal(t, map[string]any{"email": "team@example.com", "name": "Team"}, got["sender"])
	require.Equal(t, []any{map[string]any{"email": "anna@example.com", "name": "Anna"}}, got["to"])
	require.Equal(t, []any{map[string]any{"email": "cc@example.com"}}, got["cc"])
	require.Equal(t, []any{map[string]any{"email": "bcc@example.com"}}, got["bcc"])
	require.Equal(t, []any{map[string]any{"name": "a.txt", "content": "aGVsbG8="}}, got["attachment"])
	require.Equal(t, []any{"template"}, got["tags"])
	headers := got["headers"].(map[string]any)
	require.JSONEq(t, `{"template":"welcome"}`, headers["X-Mailin-custom"].(string))
}

func TestProvider_Send_TagsSorted(t *testing.T) {
	t.Parallel()

	var got struct {
		Tags []string `json:"tags"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<1@smtp-relay.mailin.fr>"}`))
	}))
	t.Cleanup(srv.Close)

	email := testEmail()
	email.Tags = mailer.Tags{"template": "welcome", "campaign": "spring", "locale": "en", "batch": "7"}
	p := brevo.New(brevo.Config{APIKey: "xkeysib-test", BaseURL: srv.URL})
	_, err := p.Send(context.Background(), email)
	require.NoError(t, err)
	require.Equal(t, []string{"batch", "campaign", "locale", "template"}, got.Tags)
}

func TestProvider_Send_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"invalid_parameter","message":"sender is not valid"}`))
	}))
	t.Cleanup(srv.Close)

	p := brevo.New(brevo.Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Send(context.Background(), testEmail())

	var perr *mailer.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, mailer.KindAPI, perr.Kind)
	require.Equal(t, http.StatusBadRequest, perr.StatusCode)
	require.Equal(t, "invalid_parameter: sender is not valid", perr.Message)
	require.ErrorIs(t, err, mailer.ErrSendFailed)
}

func TestProvider_Send_MissingMessageID(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	t.Cleanup(srv.Close)

	p := brevo.New(brevo.Config{APIKey: "k", BaseURL: srv.URL})
	_, err := p.Send(context.Background(), testEmail())

	var perr *mailer.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, mailer.KindAPI, perr.Kind)
}

func TestProvider_Send_TransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	p := brevo.New(brevo.Config{APIKey: "k", BaseURL: base})
	_, err := p.Send(context.Background(), testEmail())

	var perr *mailer.ProviderError
	require.ErrorAs(t, err, &perr)
	require.Equal(t, mailer.KindTransport, perr.Kind)
	require.Zero(t, perr.StatusCode)
}

func TestProvider_Send_ContextCanceled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"messageId":"x"}`))
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := brevo.New(brevo.Config{APIKey: "k", BaseURL: srv.URL}, brevo.WithHTTPClient(srv.Client()))
	_, err := p.Send(ctx, testEmail())
	require.ErrorIs(t, err, context.Canceled)
}
