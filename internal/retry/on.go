package retry

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/xerrors"
)

// On holds the conditions a callback delivery is attempted again on. Names
// follow envoy's retry_on policy.
type On struct {
	any5xx         bool
	gatewayError   bool
	connectFailure bool
	retriable4xx   bool
	statusCodes    map[int]struct{}
}

const DefaultRetryOn = "gateway-error,connect-failure,retriable-4xx"

func NewDefaultRetryOn() *On {
	return &On{
		gatewayError:   true,
		connectFailure: true,
		retriable4xx:   true,
		statusCodes:    map[int]struct{}{},
	}
}

// NewRetryOnFromString parses a comma separated list of condition names and
// status codes such as "5xx,429".
func NewRetryOnFromString(s string) (*On, error) {
	o := &On{statusCodes: map[int]struct{}{}}
	for _, condition := range strings.Split(s, ",") {
		condition = strings.TrimSpace(condition)
		switch condition {
		case "":
		case "5xx":
			o.any5xx = true
		case "gateway-error":
			o.gatewayError = true
		case "connect-failure":
			o.connectFailure = true
		case "retriable-4xx":
			o.retriable4xx = true
		default:
			statusCode, err := strconv.Atoi(condition)
			if err != nil || statusCode < 100 || statusCode > 599 {
				return nil, xerrors.Errorf("invalid retry condition: %s", condition)
			}
			o.statusCodes[statusCode] = struct{}{}
		}
	}
	return o, nil
}

// https://github.com/envoyproxy/envoy/blob/70d6ec1df6384118cf2fa2f02c0041edb76b2377/source/common/router/retry_state_impl.cc#L387
func (o *On) CheckResponse(response *http.Response) bool {
	code := response.StatusCode
	switch {
	case o.any5xx && code >= 500 && code < 600:
		return true
	case o.gatewayError && code >= http.StatusBadGateway && code <= http.StatusGatewayTimeout:
		return true
	case o.retriable4xx && code == http.StatusConflict:
		return true
	}

	_, ok := o.statusCodes[code]
	return ok
}

// CheckError reports whether err looks like the upstream was unreachable or
// dropped the connection.
func (o *On) CheckError(err error) bool {
	if !o.connectFailure && !o.any5xx {
		return false
	}

	type temporary interface{ Temporary() bool }
	var terr temporary
	if errors.As(err, &terr) && terr.Temporary() {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}
