package verification

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	mailer "pettrack-auth/internal/mail"
	"pettrack-auth/internal/ratelimit"
)

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

type captureMailer struct {
	sent []mailer.Message
	err  error
}

func (m *captureMailer) Send(_ context.Context, msg mailer.Message) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *captureMailer) lastCode(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, m.sent)
	match := codePattern.FindStringSubmatch(m.sent[len(m.sent)-1].Body)
	require.Len(t, match, 2)
	return match[1]
}

func newTestService(t *testing.T) (*Service, *captureMailer, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	m := &captureMailer{}
	svc := NewService(rdb, ratelimit.NewLimiter(rdb), m, "no-reply@pettrack.app")
	return svc, m, srv
}

func TestSend_ThenConfirm(t *testing.T) {
	svc, m, srv := newTestService(t)
	ctx := context.Background()
	sent := 0
	svc.OnSent(func() { sent++ })

	require.NoError(t, svc.Send(ctx, " Owner@Pets.com "))
	require.Len(t, m.sent, 1)
	require.Equal(t, "owner@pets.com", m.sent[0].To)
	require.Equal(t, "no-reply@pettrack.app", m.sent[0].From)
	require.Equal(t, 1, sent)
	require.Equal(t, 5*time.Minute, srv.TTL(codePrefix+"owner@pets.com"))

	stored, err := srv.Get(codePrefix + "owner@pets.com")
	require.NoError(t, err)
	require.NotContains(t, stored, m.lastCode(t))

	require.NoError(t, svc.Confirm(ctx, "owner@pets.com", m.lastCode(t)))
	require.False(t, srv.Exists(codePrefix+"owner@pets.com"))

	require.ErrorIs(t, svc.Confirm(ctx, "owner@pets.com", m.lastCode(t)), ErrInvalidCode)
}

func TestSend_CooldownBlocksResend(t *testing.T) {
	svc, m, srv := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "owner@pets.com"))
	require.ErrorIs(t, svc.Send(ctx, "owner@pets.com"), ErrCooldownActive)
	require.Len(t, m.sent, 1)

	srv.FastForward(time.Minute)
	require.NoError(t, svc.Send(ctx, "owner@pets.com"))
	require.Len(t, m.sent, 2)
}

func TestConfirm_WrongCodeKeepsStoredCode(t *testing.T) {
	svc, m, srv := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "owner@pets.com"))
	wrong := "000000"
	if m.lastCode(t) == wrong {
		wrong = "111111"
	}

	require.ErrorIs(t, svc.Confirm(ctx, "owner@pets.com", wrong), ErrInvalidCode)
	require.True(t, srv.Exists(codePrefix+"owner@pets.com"))
}

func wrongCode(t *testing.T, m *captureMailer) string {
	t.Helper()
	if m.lastCode(t) == "000000" {
		return "111111"
	}
	return "000000"
}

func TestConfirm_TooManyWrongGuessesDiscardCode(t *testing.T) {
	svc, m, srv := newTestService(t)
	ctx := context.Background()
	email := "owner@pets.com"

	require.NoError(t, svc.Send(ctx, email))
	code, wrong := m.lastCode(t), wrongCode(t, m)

	for i := 1; i < maxFailedConfirm; i++ {
		require.ErrorIs(t, svc.Confirm(ctx, email, wrong), ErrInvalidCode, "guess %d", i)
	}
	require.Equal(t, 5*time.Minute, srv.TTL(attemptsPrefix+email))

	require.ErrorIs(t, svc.Confirm(ctx, email, wrong), ErrAttemptsExceeded)
	require.False(t, srv.Exists(codePrefix+email))
	require.False(t, srv.Exists(attemptsPrefix+email))

	require.ErrorIs(t, svc.Confirm(ctx, email, code), ErrInvalidCode)
}

func TestSend_ResetsFailureCount(t *testing.T) {
	svc, m, srv := newTestService(t)
	ctx := context.Background()
	email := "owner@pets.com"

	require.NoError(t, svc.Send(ctx, email))
	require.ErrorIs(t, svc.Confirm(ctx, email, wrongCode(t, m)), ErrInvalidCode)
	require.ErrorIs(t, svc.Confirm(ctx, email, wrongCode(t, m)), ErrInvalidCode)
	require.True(t, srv.Exists(attemptsPrefix+email))

	srv.FastForward(time.Minute)
	require.NoError(t, svc.Send(ctx, email))
	require.False(t, srv.Exists(attemptsPrefix+email))

	require.ErrorIs(t, svc.Confirm(ctx, email, wrongCode(t, m)), ErrInvalidCode)
	require.NoError(t, svc.Confirm(ctx, email, m.lastCode(t)))
	require.False(t, srv.Exists(attemptsPrefix+email))
}

func TestConfirm_ExpiredCode(t *testing.T) {
	svc, m, srv := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Send(ctx, "owner@pets.com"))
	srv.FastForward(5 * time.Minute)

	require.ErrorIs(t, svc.Confirm(ctx, "owner@pets.com", m.lastCode(t)), ErrInvalidCode)
}

func TestSend_InvalidEmail(t *testing.T) {
	svc, m, _ := newTestService(t)

	require.ErrorIs(t, svc.Send(context.Background(), "not-an-email"), ErrInvalidEmail)
	require.Empty(t, m.sent)
}

func TestSend_MailerFailureSetsNoCooldown(t *testing.T) {
	svc, m, srv := newTestService(t)
	m.err = errors.New("smtp down")

	require.Error(t, svc.Send(context.Background(), "owner@pets.com"))
	require.False(t, srv.Exists("rate_limit:email:owner@pets.com"))
}

func TestGenerateCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		require.Regexp(t, `^\d{6}$`, code)
	}
}

func TestGenerateCode_LeadingDigitsVary(t *testing.T) {
	leading := make(map[byte]bool)
	for i := 0; i < 500; i++ {
		code, err := generateCode()
		require.NoError(t, err)
		leading[code[0]] = true
	}
	require.Len(t, leading, 10)
}
