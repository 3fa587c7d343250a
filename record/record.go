package record

import (
	"context"
	"errors"
	"time"
)

// Exchange is one forwarded request with both servers' responses.
type Exchange struct {
	ID                 string        `json:"id"`
	SessionID          string        `json:"session_id"`
	Key                string        `json:"key"`
	Epoch              uint64        `json:"epoch"`
	Client             string        `json:"client"`
	Server             string        `json:"server"`
	Seq                int           `json:"seq"`
	Method             string        `json:"method"`
	Target             string        `json:"target"`
	Request            []byte        `json:"-"`
	ProductionResponse []byte        `json:"-"`
	TestResponse       []byte        `json:"-"`
	ErrorKind          string        `json:"error_kind,omitempty"`
	Error              string        `json:"error,omitempty"`
	CapturedAt         time.Time     `json:"captured_at"`
	ForwardedAt        time.Time     `json:"forwarded_at"`
	Duration           time.Duration `json:"duration_ns"`
}

type Store interface {
	Save(ctx context.Context, ex Exchange) error
	Close() error
}

// Multi writes every exchange to all stores and joins their errors.
type Multi []Store

func (m Multi) Save(ctx context.Context, ex Exchange) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, ex); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops everything.
type Discard struct{}

func (Discard) Save(context.Context, Exchange) error { return nil }
func (Discard) Close() error                         { return nil }
