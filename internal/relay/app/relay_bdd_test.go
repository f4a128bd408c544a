package app

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"ephemeral_chat_service/internal/relay/domain"
	"ephemeral_chat_service/internal/relay/repository"
	"ephemeral_chat_service/pkg/logger"

	"github.com/cucumber/godog"
)

type relayWorld struct {
	rooms    *repository.RoomRegistry
	relay    *RelayUseCase
	emitter  *MockEmitter
	sessions map[string]*Session
}

func (w *relayWorld) session(name string) (*Session, error) {
	sess, ok := w.sessions[name]
	if !ok {
		return nil, fmt.Errorf("unknown member %q", name)
	}
	return sess, nil
}

func displayNames(memberIDs []string) string {
	names := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		names = append(names, domain.DisplayName(id))
	}
	return strings.Join(names, ",")
}

func (w *relayWorld) joinsRoom(name, room string) error {
	sess := &Session{ConnectionID: "conn-" + name}
	w.sessions[name] = sess
	return w.relay.Join(sess, domain.JoinRoomPayload{RoomID: room, UserName: name})
}

func (w *relayWorld) leaves(name string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	w.relay.Leave(sess, true)
	return nil
}

func (w *relayWorld) seesMembers(name, expected string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	var last []string
	for _, s := range w.emitter.Sent() {
		switch s.Event {
		case domain.EventJoinedRoom, domain.EventUserJoined, domain.EventUserLeft:
		default:
			continue
		}
		for _, id := range s.IDs {
			if id == sess.ConnectionID {
				last = s.Payload.(domain.PresencePayload).Users
			}
		}
	}
	if got := displayNames(last); got != expected {
		return fmt.Errorf("%s sees members %q, want %q", name, got, expected)
	}
	return nil
}

func (w *relayWorld) sends(name, text string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	return w.relay.SendMessage(sess, domain.SendMessagePayload{EncryptedData: text})
}

func (w *relayWorld) receivesFrom(name, text, from string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	sender, err := w.session(from)
	if err != nil {
		return err
	}
	for _, p := range w.emitter.To(sess.ConnectionID, domain.EventReceiveMessage) {
		msg := p.(domain.ReceiveMessagePayload)
		if msg.EncryptedData == text && msg.UserID == sender.MemberID {
			return nil
		}
	}
	return fmt.Errorf("%s did not receive %q from %s", name, text, from)
}

func (w *relayWorld) receivesNoMessage(name string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	if got := w.emitter.To(sess.ConnectionID, domain.EventReceiveMessage); len(got) > 0 {
		return fmt.Errorf("%s received %d messages", name, len(got))
	}
	return nil
}

func (w *relayWorld) typing(name string, isTyping bool) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	return w.relay.SetTyping(sess, domain.TypingPayload{IsTyping: isTyping})
}

func (w *relayWorld) seesTyping(name, expected string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	got := w.emitter.To(sess.ConnectionID, domain.EventUsersTyping)
	if len(got) == 0 {
		return fmt.Errorf("%s has no typing update", name)
	}
	last := got[len(got)-1].(domain.UsersTypingPayload).UserIDs
	if names := displayNames(last); names != expected {
		return fmt.Errorf("%s sees typing %q, want %q", name, names, expected)
	}
	return nil
}

func (w *relayWorld) roomExists(room string) error {
	if !w.rooms.Exists(room) {
		return fmt.Errorf("room %s does not exist", room)
	}
	return nil
}

func (w *relayWorld) roomNotExists(room string) error {
	if w.rooms.Exists(room) {
		return fmt.Errorf("room %s still exists", room)
	}
	return nil
}

func (w *relayWorld) toldDestroyed(name string) error {
	sess, err := w.session(name)
	if err != nil {
		return err
	}
	if len(w.emitter.To(sess.ConnectionID, domain.EventChatDestroyed)) == 0 {
		return fmt.Errorf("%s did not receive chat-destroyed", name)
	}
	return nil
}

func initializeRelayScenario(ctx *godog.ScenarioContext) {
	w := &relayWorld{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		logger.SetNewNop()
		w.rooms = repository.NewRoomRegistry(repository.RegistryOptions{})
		w.emitter = newMockEmitter()
		w.relay = NewRelayUseCase(w.rooms, w.emitter, RelayOptions{})
		w.sessions = make(map[string]*Session)
		return ctx, nil
	})

	ctx.Step(`^"([^"]*)" joins room "([^"]*)"$`, w.joinsRoom)
	ctx.Step(`^"([^"]*)" leaves$`, w.leaves)
	ctx.Step(`^"([^"]*)" sees members "([^"]*)"$`, w.seesMembers)
	ctx.Step(`^"([^"]*)" sends "([^"]*)"$`, w.sends)
	ctx.Step(`^"([^"]*)" receives "([^"]*)" from "([^"]*)"$`, w.receivesFrom)
	ctx.Step(`^"([^"]*)" receives no message$`, w.receivesNoMessage)
	ctx.Step(`^"([^"]*)" starts typing$`, func(name string) error { return w.typing(name, true) })
	ctx.Step(`^"([^"]*)" stops typing$`, func(name string) error { return w.typing(name, false) })
	ctx.Step(`^"([^"]*)" sees typing "([^"]*)"$`, w.seesTyping)
	ctx.Step(`^room "([^"]*)" exists$`, w.roomExists)
	ctx.Step(`^room "([^"]*)" does not exist$`, w.roomNotExists)
	ctx.Step(`^"([^"]*)" is told the room was destroyed$`, w.toldDestroyed)
}

func TestRelayFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: initializeRelayScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
