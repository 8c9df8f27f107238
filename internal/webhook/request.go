package webhook

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrBodyTooLarge is returned by ReadRequest when the body exceeds the limit.
var ErrBodyTooLarge = errors.New("payload too large")

// ReadRequest snapshots r into a Request, reading at most maxBody bytes of body.
// On ErrBodyTooLarge the returned Request carries the headers but no body.
func ReadRequest(r *http.Request, maxBody int64) (*Request, error) {
	req := &Request{
		Method:    r.Method,
		UserAgent: r.UserAgent(),
		Event:     r.Header.Get(HeaderEvent),
		Signature: r.Header.Get(HeaderSignature),
		Delivery:  r.Header.Get(HeaderDelivery),
	}

	if r.Body == nil {
		return req, nil
	}

	// Enforce body size limit
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		return req, fmt.Errorf("read request body: %w", err)
	}
	if int64(len(body)) > maxBody {
		return req, ErrBodyTooLarge
	}

	req.Body = body
	return req, nil
}
