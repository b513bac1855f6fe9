// Package notification sends best-effort push notifications through shoutrrr.
package notification

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/lampwatch/lampwatch/internal/conf"
	"github.com/lampwatch/lampwatch/internal/errors"
	"github.com/lampwatch/lampwatch/internal/logger"
)

const componentName = "notification"

// Notifier delivers a titled message to the configured services.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// sender is the part of shoutrrr's router used here.
type sender interface {
	Send(message string, params *stypes.Params) []error
}

// ShoutrrrNotifier fans a message out to every configured shoutrrr URL.
type ShoutrrrNotifier struct {
	sender   sender
	services int
	timeout  time.Duration
}

// New builds a notifier from settings. It returns nil, nil when no URLs are
// configured so callers can treat a nil Notifier as disabled.
func New(settings conf.NotificationSettings) (*ShoutrrrNotifier, error) {
	urls := slices.DeleteFunc(slices.Clone(settings.URLs), func(u string) bool { return u == "" })
	if len(urls) == 0 {
		return nil, nil
	}

	router, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("invalid notification URL: %w", err)).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("services", len(urls)).
			Build()
	}
	if settings.Timeout > 0 {
		router.Timeout = settings.Timeout
	}
	router.SetLogger(log.New(io.Discard, "", 0))

	GetLogger().Info("push notifications enabled", logger.Int("services", len(urls)))
	return &ShoutrrrNotifier{sender: router, services: len(urls), timeout: settings.Timeout}, nil
}

// Notify sends the message and returns the first delivery error. The router
// applies its own per-service timeout; ctx only bounds how long Notify waits.
func (n *ShoutrrrNotifier) Notify(ctx context.Context, title, message string) error {
	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	done := make(chan []error, 1)
	go func() {
		done <- n.sender.Send(message, &params)
	}()

	select {
	case errs := <-done:
		for _, e := range errs {
			if e != nil {
				return errors.New(e).
					Component(componentName).
					Category(errors.CategoryNotification).
					Context("services", n.services).
					Build()
			}
		}
		return nil
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component(componentName).
			Category(errors.CategoryNotification).
			Context("operation", "notify").
			Build()
	}
}

// GetLogger returns the notification module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}
