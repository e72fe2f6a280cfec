package notify

import "context"

// PushChannel is a contract-only stub: platform push (FCM/APNS) is external
// infrastructure spec.md §4.8 explicitly scopes out of this component
// ("implementation is external"), matching the original's PushChannelImpl
// placeholder that always returns Ok(()).
type PushChannel struct{}

func NewPushChannel() *PushChannel { return &PushChannel{} }

func (c *PushChannel) Name() Channel { return ChannelPush }

func (c *PushChannel) Send(ctx context.Context, n Notification) error {
	return nil
}
