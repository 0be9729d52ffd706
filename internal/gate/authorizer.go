package gate

import "context"

// Authorizer decides whether a speaker may end the meeting.
type Authorizer interface {
	CanEndMeeting(ctx context.Context, speakerID string) bool
}

// AuthorizerFunc adapts a function to [Authorizer].
type AuthorizerFunc func(ctx context.Context, speakerID string) bool

// CanEndMeeting calls f(ctx, speakerID).
func (f AuthorizerFunc) CanEndMeeting(ctx context.Context, speakerID string) bool {
	return f(ctx, speakerID)
}

// DenyAll authorizes nobody.
var DenyAll Authorizer = AuthorizerFunc(func(context.Context, string) bool { return false })

// OwnerOr authorizes the meeting owner and anyone moderators authorizes.
// moderators may be nil.
func OwnerOr(ownerID string, moderators Authorizer) Authorizer {
	return AuthorizerFunc(func(ctx context.Context, speakerID string) bool {
		if ownerID != "" && speakerID == ownerID {
			return true
		}
		return moderators != nil && moderators.CanEndMeeting(ctx, speakerID)
	})
}
