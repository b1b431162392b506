package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/events"
)

// taskLogger routes asynq's internal logging through zerolog.
type taskLogger struct {
	l zerolog.Logger
}

func (t taskLogger) Debug(args ...any) { t.l.Debug().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Info(args ...any)  { t.l.Info().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Warn(args ...any)  { t.l.Warn().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Error(args ...any) { t.l.Error().Msg(fmt.Sprint(args...)) }
func (t taskLogger) Fatal(args ...any) { t.l.Fatal().Msg(fmt.Sprint(args...)) }

// logMailer stands in for a mail provider: confirmations are logged.
type logMailer struct {
	l zerolog.Logger
}

func (m logMailer) Send(_ context.Context, mail events.Mail) error {
	m.l.Info().Str("to", mail.To).Str("subject", mail.Subject).Msg("order_confirmation_email")
	return nil
}
