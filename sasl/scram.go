package sasl

import (
	"errors"
	"fmt"

	"github.com/xdg-go/scram"
)

type scramMechanism struct {
	name string
	conv *scram.ClientConversation
}

func hashFor(name string) scram.HashGeneratorFcn {
	switch name {
	case ScramSHA1:
		return scram.SHA1
	case ScramSHA256:
		return scram.SHA256
	default:
		return scram.SHA512
	}
}

func newScram(name, username, password string) (*scramMechanism, error) {
	client, err := hashFor(name).NewClient(username, password, "")
	if err != nil {
		return nil, fmt.Errorf("sasl: %s: %w", name, err)
	}
	return &scramMechanism{name: name, conv: client.NewConversation()}, nil
}

func (s *scramMechanism) Name() string { return s.name }

func (s *scramMechanism) Start() ([]byte, error) {
	first, err := s.conv.Step("")
	if err != nil {
		return nil, fmt.Errorf("sasl: %s: %w", s.name, err)
	}
	return []byte(first), nil
}

func (s *scramMechanism) Next(challenge []byte) ([]byte, error) {
	resp, err := s.conv.Step(string(challenge))
	if err != nil {
		return nil, fmt.Errorf("sasl: %s: %w", s.name, err)
	}
	return []byte(resp), nil
}

// Verify validates the server signature. An empty final message is accepted
// for servers that do not send one.
func (s *scramMechanism) Verify(final []byte) error {
	if len(final) == 0 {
		return nil
	}
	if !s.conv.Done() {
		if _, err := s.conv.Step(string(final)); err != nil {
			return fmt.Errorf("sasl: %s: %w", s.name, err)
		}
	}
	if !s.conv.Valid() {
		return errors.New("sasl: " + s.name + ": server signature mismatch")
	}
	return nil
}
