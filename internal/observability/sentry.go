package observability

import (
	"time"

	"github.com/getsentry/sentry-go"
)

func InitSentry(dsn, environment, serviceName string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		ServerName:       serviceName,
		AttachStacktrace: true,
		BeforeSend:       scrubCredentials,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// scrubCredentials drops bearer tokens and cookies before an event leaves the process.
func scrubCredentials(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request == nil {
		return event
	}
	for _, header := range []string{"Authorization", "Cookie"} {
		if _, ok := event.Request.Headers[header]; ok {
			event.Request.Headers[header] = "[redacted]"
		}
	}
	event.Request.Data = ""
	return event
}
