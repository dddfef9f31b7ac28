// Package ssh connects bootsync to a managed host over SSH. The client
// executes one-shot commands, starts the long-lived agent process with its
// standard streams piped back, and uploads files over SFTP. Sessions are
// created per call on top of a single underlying connection.
package ssh

// TransportError is the error shape every transport operation returns.
type TransportError struct {
	// Op is the operation that failed (connect, exec, start, upload).
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the operation may succeed when retried.
	IsTemporary bool

	// IsAuthError indicates the failure is in credentials or host keys
	// rather than the network.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
