package types

import "context"

// Client is the outbound send contract a channel adapter provides to the
// core. Transport failures surface as errors without retry; retry policy
// belongs to the adapter.
type Client interface {
	SendText(ctx context.Context, connectionID int64, recipient, body string, opts *SendOptions) (*SendResponse, error)
	SendMedia(ctx context.Context, connectionID int64, recipient string, media MediaInput, opts *SendOptions) (*SendResponse, error)
}
