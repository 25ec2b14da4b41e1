package verification

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"pettrack-auth/internal/kv"
	mailer "pettrack-auth/internal/mail"
)

const (
	codeDigits       = 6
	codePrefix       = "email_verification:"
	attemptsPrefix   = "email_verification_attempts:"
	defaultCodeTTL   = 5 * time.Minute
	defaultCooldown  = time.Minute
	maxFailedConfirm = 5
)

var codeSpace = big.NewInt(1_000_000)

var (
	ErrCooldownActive = errors.New("verification mail recently sent")
	ErrInvalidCode    = errors.New("invalid verification code")
	ErrInvalidEmail   = errors.New("invalid email")
)

// ErrAttemptsExceeded means the code was discarded after too many wrong
// guesses. A new code must be requested.
var ErrAttemptsExceeded = errors.New("too many verification attempts")

// Cooldown is the per-email dispatch guard; ratelimit.Limiter satisfies it.
type Cooldown interface {
	EmailCooldownActive(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string, duration time.Duration) error
}

type Service struct {
	rdb      redis.Cmdable
	cooldown Cooldown
	mailer   mailer.Mailer
	sender   string
	codeTTL  time.Duration
	wait     time.Duration
	onSent   func()
}

func NewService(rdb redis.Cmdable, cooldown Cooldown, m mailer.Mailer, sender string) *Service {
	return &Service{
		rdb:      rdb,
		cooldown: cooldown,
		mailer:   m,
		sender:   sender,
		codeTTL:  defaultCodeTTL,
		wait:     defaultCooldown,
	}
}

func (s *Service) WithTimings(codeTTL, cooldown time.Duration) *Service {
	if codeTTL > 0 {
		s.codeTTL = codeTTL
	}
	if cooldown > 0 {
		s.wait = cooldown
	}
	return s
}

func (s *Service) OnSent(fn func()) *Service {
	s.onSent = fn
	return s
}

func (s *Service) Send(ctx context.Context, email string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}

	active, err := s.cooldown.EmailCooldownActive(ctx, email)
	if err != nil {
		return err
	}
	if active {
		return ErrCooldownActive
	}

	code, err := generateCode()
	if err != nil {
		return fmt.Errorf("generate verification code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash verification code: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, codePrefix+email, string(hash), s.codeTTL)
	pipe.Del(ctx, attemptsPrefix+email)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store verification code: %w", err)
	}

	if err := s.mailer.Send(ctx, mailer.Message{
		From:    s.sender,
		To:      email,
		Subject: "Your verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(s.codeTTL.Minutes())),
	}); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}

	if err := s.cooldown.SetEmailCooldown(ctx, email, s.wait); err != nil {
		return err
	}
	if s.onSent != nil {
		s.onSent()
	}
	return nil
}

// Confirm consumes the stored code on success. Every wrong guess counts
// against the code, which is discarded once the limit is reached.
func (s *Service) Confirm(ctx context.Context, email, code string) error {
	email, err := normalize(email)
	if err != nil {
		return err
	}

	hash, err := s.rdb.Get(ctx, codePrefix+email).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidCode
		}
		return fmt.Errorf("load verification code: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(strings.TrimSpace(code))); err != nil {
		return s.recordFailure(ctx, email)
	}

	if err := s.rdb.Del(ctx, codePrefix+email, attemptsPrefix+email).Err(); err != nil {
		return fmt.Errorf("consume verification code: %w", err)
	}
	return nil
}

func (s *Service) recordFailure(ctx context.Context, email string) error {
	failures, err := kv.IncrWithin(ctx, s.rdb, attemptsPrefix+email, s.codeTTL)
	if err != nil {
		return fmt.Errorf("count verification failure: %w", err)
	}
	if failures < maxFailedConfirm {
		return ErrInvalidCode
	}
	if err := s.rdb.Del(ctx, codePrefix+email, attemptsPrefix+email).Err(); err != nil {
		return fmt.Errorf("discard verification code: %w", err)
	}
	return ErrAttemptsExceeded
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}

func normalize(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		return "", ErrInvalidEmail
	}
	return email, nil
}
