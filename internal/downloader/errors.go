package downloader

import (
	"errors"
	"fmt"
)

// ErrAborted indica una cancelación deliberada (pausa), no un fallo
var ErrAborted = errors.New("transfer aborted")

// Kind clasifica los fallos de una transferencia
type Kind string

const (
	KindAuthorization Kind = "authorization"
	KindNetwork       Kind = "network"
	KindStorage       Kind = "storage"
)

// TransferError envuelve el fallo terminal de un intento
type TransferError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, err error) *TransferError {
	return &TransferError{Kind: kind, Op: op, Err: err}
}

func isKind(err error, kind Kind) bool {
	var te *TransferError
	return errors.As(err, &te) && te.Kind == kind
}

func IsAuthorization(err error) bool { return isKind(err, KindAuthorization) }
func IsNetwork(err error) bool       { return isKind(err, KindNetwork) }
func IsStorage(err error) bool       { return isKind(err, KindStorage) }
