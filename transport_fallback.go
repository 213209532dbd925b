package main

import (
	"context"
	"errors"
)

const autoTransportName = "auto"

// FallbackTransport sends with primary and, only when the answer is a bot
// challenge, resends once with secondary.
type FallbackTransport struct {
	primary   Transport
	secondary Transport
	logger    Logger
}

func NewFallbackTransport(primary, secondary Transport, logger Logger) *FallbackTransport {
	return &FallbackTransport{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackTransport) Name() string { return autoTransportName }

func (f *FallbackTransport) Send(ctx context.Context, req *RequestDescription) (*Response, error) {
	resp, err := f.primary.Send(ctx, req)

	var remoteErr *RemoteAPIError
	if err == nil || !errors.As(err, &remoteErr) || !remoteErr.BotChallenge {
		return resp, err
	}

	f.logger.Log("Bot challenge on %s (status %d), retrying with %s transport",
		f.primary.Name(), remoteErr.StatusCode, f.secondary.Name())
	return f.secondary.Send(ctx, req)
}
