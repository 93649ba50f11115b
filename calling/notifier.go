package calling

import (
	"context"

	"chatflow/signaling/models"
	"chatflow/signaling/utils"
)

// MarkerNotifier posts the synthetic "call started" message to the
// conversation service through the relay client. Direct conversations are
// keyed by the peer's user ID; pass a resolver when a deployment maps peers
// to chat IDs differently.
type MarkerNotifier struct {
	client      *Client
	logger      *utils.Logger
	resolveChat func(peerID string) string
}

func NewMarkerNotifier(client *Client, logger *utils.Logger) *MarkerNotifier {
	return &MarkerNotifier{
		client: client,
		logger: logger,
	}
}

// WithChatResolver overrides the peer-to-chat mapping.
func (n *MarkerNotifier) WithChatResolver(resolve func(peerID string) string) *MarkerNotifier {
	n.resolveChat = resolve
	return n
}

// CallStarted posts the marker for a call with peerID. Failures are logged
// and swallowed; the conversation log is a courtesy, never a call dependency.
func (n *MarkerNotifier) CallStarted(ctx context.Context, peerID string, kind models.CallKind) {
	chatID := peerID
	if n.resolveChat != nil {
		chatID = n.resolveChat(peerID)
	}

	if err := n.client.PostCallMarker(ctx, chatID, kind); err != nil {
		n.logger.Warn("failed to post call marker", "chat", chatID, "error", err)
	}
}
