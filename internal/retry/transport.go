package retry

import (
	"io"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

// Transport retries requests according to RetryOn, sleeping as told by
// RetryStrategy between attempts. Requests with a body are only retried when
// GetBody is set, which http.NewRequest does for in-memory bodies.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	for retryCount := uint(0); ; retryCount++ {
		attempt, err := rewind(request, retryCount)
		if err != nil {
			return nil, err
		}

		sleep, exceeded := t.retryStrategy().Sleep(retryCount)
		exceeded = exceeded || !replayable(request)

		response, err := t.base().RoundTrip(attempt)
		if err != nil {
			if exceeded || t.RetryOn == nil || !t.RetryOn.CheckError(err) {
				return nil, err
			}
		} else {
			if exceeded || t.RetryOn == nil || !t.RetryOn.CheckResponse(response) {
				return response, nil
			}
			// drain so that the connection can be reused
			_, _ = io.Copy(io.Discard, response.Body)
			response.Body.Close()
		}

		timer := time.NewTimer(sleep)
		select {
		case <-request.Context().Done():
			timer.Stop()
			return nil, request.Context().Err()
		case <-timer.C:
		}
	}
}

func replayable(request *http.Request) bool {
	return request.Body == nil || request.Body == http.NoBody || request.GetBody != nil
}

func rewind(request *http.Request, retryCount uint) (*http.Request, error) {
	if retryCount == 0 || request.GetBody == nil {
		return request, nil
	}

	body, err := request.GetBody()
	if err != nil {
		return nil, xerrors.Errorf("failed to rewind request body: %w", err)
	}
	attempt := request.Clone(request.Context())
	attempt.Body = body
	return attempt, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
