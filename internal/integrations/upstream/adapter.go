package upstream

import (
	"fmt"

	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
	"github.com/pkg/errors"
)

// Adapter knows how to ask one upstream for deliveries and how to read the answer.
type Adapter interface {
	Kind() models.UpstreamKind
	Request() httpclient.Request
	Decode(resp httpclient.Response) ([]models.DeliveryRecord, error)
}

var (
	// ErrParse: the body could not be decoded at all.
	ErrParse = errors.New("parse error")
	// ErrFormat: the body decoded but has an unexpected shape.
	ErrFormat = errors.New("unexpected response shape")
)

const genericUpstreamMessage = "No error message provided"

// UpstreamError is a well-formed response that reports a logical failure.
type UpstreamError struct {
	Message string
}

func NewUpstreamError(msg string) *UpstreamError {
	if msg == "" {
		msg = genericUpstreamMessage
	}
	return &UpstreamError{Message: msg}
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error: %s", e.Message)
}
