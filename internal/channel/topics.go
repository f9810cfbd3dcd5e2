package channel

import (
	"strings"

	"github.com/park285/Cheese-match-client/pkg/matchdto"
)

// Per-match topics.
func MovesTopic(id matchdto.MatchID) string { return "topic/moves/" + id.String() }
func GameStateTopic(id matchdto.MatchID) string { return "topic/game-state/" + id.String() }
func DrawOffersTopic(id matchdto.MatchID) string { return "topic/draw-offers/" + id.String() }
func GameTopic(id matchdto.MatchID) string { return "topic/game/" + id.String() }
func ChatTopic(id matchdto.MatchID) string { return "topic/chat/" + id.String() }

// Action destinations: join, move, resign, draw, draw/accept, chat.
func ActionDestination(id matchdto.MatchID, action string) string {
	return "app/game/" + id.String() + "/" + strings.Trim(action, "/")
}

// normalize strips surrounding slashes and blanks.
func normalize(topic string) string {
	return strings.Trim(strings.TrimSpace(topic), "/")
}

// stompDestination maps a neutral topic to a STOMP destination.
func stompDestination(topic string) string { return "/" + normalize(topic) }

// natsSubject maps a neutral topic to a NATS subject.
func natsSubject(topic string) string {
	return strings.ReplaceAll(normalize(topic), "/", ".")
}
