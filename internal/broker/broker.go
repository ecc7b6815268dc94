// Package broker queries brokerage partner APIs for account trading activity
// and normalises the results into domain.ActivitySummary.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xRichardL/vibe-copy-trading/licensing/internal/domain"
)

var (
	// ErrUpstreamUnavailable matches any provider failure other than rejected credentials.
	ErrUpstreamUnavailable = errors.New("broker upstream unavailable")
	// ErrUnauthenticated matches provider failures caused by rejected or missing credentials.
	ErrUnauthenticated = errors.New("broker credentials rejected")
)

type ErrorKind string

const (
	KindUnavailable     ErrorKind = "unavailable"
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindMalformed       ErrorKind = "malformed"
)

// UpstreamError describes a failed provider call.
type UpstreamError struct {
	Broker domain.Broker
	Op     string
	Kind   ErrorKind
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Broker, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Broker, e.Op, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUnauthenticated:
		return e.Kind == KindUnauthenticated
	case ErrUpstreamUnavailable:
		return e.Kind != KindUnauthenticated
	}
	return false
}

func upstreamErr(b domain.Broker, op string, kind ErrorKind, err error) *UpstreamError {
	return &UpstreamError{Broker: b, Op: op, Kind: kind, Err: err}
}

// Window is the inclusive time range an activity query covers.
type Window struct {
	From time.Time
	To   time.Time
}

// LookbackWindow returns the window ending at now and starting days earlier.
func LookbackWindow(now time.Time, days int) Window {
	now = now.UTC()
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

// Contains reports whether t falls on a day inside the window.
func (w Window) Contains(t time.Time) bool {
	day := domain.StartOfDay(t)
	return !day.Before(domain.StartOfDay(w.From)) && !day.After(domain.StartOfDay(w.To))
}

// Provider fetches activity for one broker. On total failure it returns the
// zero summary together with an *UpstreamError; an account the broker does not
// report is not a failure.
type Provider interface {
	Broker() domain.Broker
	FetchActivity(ctx context.Context, account string, w Window) (domain.ActivitySummary, error)
}

// Registry maps each broker to its provider.
type Registry map[domain.Broker]Provider

// NewRegistry indexes providers by the broker they serve.
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		r[p.Broker()] = p
	}
	return r
}

func (r Registry) Get(b domain.Broker) (Provider, error) {
	p, ok := r[b]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownBroker, b)
	}
	return p, nil
}
