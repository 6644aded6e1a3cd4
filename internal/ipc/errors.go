package ipc

import (
	"errors"
	"net/rpc"
	"strings"

	"finisher/internal/services"
)

// remoteError carries a daemon-side error message and its restored sentinel.
type remoteError struct {
	marker  error
	message string
}

func (e *remoteError) Error() string { return e.message }

func (e *remoteError) Unwrap() error { return e.marker }

// encodeError tags err with its service kind so the client can restore it.
func encodeError(err error) error {
	if err == nil {
		return nil
	}
	kind := services.Kind(err)
	if services.MarkerForKind(kind) == nil {
		return err
	}
	return errors.New("[" + kind + "] " + err.Error())
}

// ErrorFromKind restores the services sentinel from an RPC error so callers
// can test it with errors.Is. Errors without a kind tag are returned as is.
func ErrorFromKind(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	message := string(serverErr)
	if !strings.HasPrefix(message, "[") {
		return err
	}
	end := strings.Index(message, "] ")
	if end < 0 {
		return err
	}
	marker := services.MarkerForKind(message[1:end])
	if marker == nil {
		return err
	}
	return &remoteError{marker: marker, message: message[end+2:]}
}
