package writer

import (
	"errors"
	"net/http"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var retryableHTTP = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

var retryableGRPC = map[codes.Code]bool{
	codes.Aborted:           true,
	codes.DeadlineExceeded:  true,
	codes.Internal:          true,
	codes.ResourceExhausted: true,
	codes.Unavailable:       true,
}

// retryable reports whether err is worth another insert. A multi-row error
// is retried only when every row failed transiently; one bad row makes the
// whole batch permanent.
func retryable(err error) bool {
	if err == nil {
		return false
	}

	// The client returns these as values; pointers show up when callers wrap.
	if multi, ok := asMultiError(err); ok {
		return allRetryable(len(multi), func(i int) error { return multi[i] })
	}
	if rows, ok := asPutMultiError(err); ok {
		return allRetryable(len(rows), func(i int) error { return rows[i].Errors })
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return retryableHTTP[apiErr.Code]
	}
	var grpcErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &grpcErr) {
		if st := grpcErr.GRPCStatus(); st != nil {
			return retryableGRPC[st.Code()]
		}
	}
	return false
}

func allRetryable(n int, at func(int) error) bool {
	if n == 0 {
		return false
	}
	for i := range n {
		if !retryable(at(i)) {
			return false
		}
	}
	return true
}

func asMultiError(err error) (cbigquery.MultiError, bool) {
	var value cbigquery.MultiError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *cbigquery.MultiError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return nil, false
}

func asPutMultiError(err error) (cbigquery.PutMultiError, bool) {
	var value cbigquery.PutMultiError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *cbigquery.PutMultiError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return nil, false
}
