package device

import "context"

// ReadWriter is the point-access surface of [Client]. Higher layers consume
// this interface so the client can be wrapped or replaced in tests.
type ReadWriter interface {
	Read(ctx context.Context, ids []string, chunkSize int) (ReadResult, error)
	Write(ctx context.Context, id string, value any) (map[string]any, error)
}

var _ ReadWriter = (*Client)(nil)

// NotifyWrites wraps rw so fn runs after every successful write. Reads pass
// through untouched. Flash-wear accounting uses this to observe write
// traffic without changing the client contract.
func NotifyWrites(rw ReadWriter, fn func(id string, value any)) ReadWriter {
	return &writeNotifier{inner: rw, fn: fn}
}

type writeNotifier struct {
	inner ReadWriter
	fn    func(id string, value any)
}

func (w *writeNotifier) Read(ctx context.Context, ids []string, chunkSize int) (ReadResult, error) {
	return w.inner.Read(ctx, ids, chunkSize)
}

func (w *writeNotifier) Write(ctx context.Context, id string, value any) (map[string]any, error) {
	payload, err := w.inner.Write(ctx, id, value)
	if err != nil {
		return nil, err
	}
	if w.fn != nil {
		w.fn(id, value)
	}
	return payload, nil
}
