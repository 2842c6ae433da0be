package testutils

import (
	"bytes"
	"strings"

	"github.com/xdg-go/scram"
)

// Mechanisms is the SASL mechanism list advertised by the test server.
const Mechanisms = "SCRAM-SHA512 SCRAM-SHA256 SCRAM-SHA1 PLAIN"

// session is the per connection state shared by both protocol handlers.
type session struct {
	engine        *Engine
	user          string
	authenticated bool
	bucket        string
	scram         *scram.ServerConversation
	mutationSeqno bool
}

// authStart handles the first SASL message. It returns the data to send
// back with the status.
func (s *session) authStart(mech string, data []byte) ([]byte, Status) {
	s.authenticated = false
	s.scram = nil

	switch strings.ToUpper(mech) {
	case "PLAIN":
		parts := bytes.Split(data, []byte{0})
		if len(parts) != 3 {
			return nil, StatusAuthError
		}
		user, password := string(parts[1]), string(parts[2])
		if want, ok := s.engine.password(user); !ok || want != password {
			return nil, StatusAuthError
		}
		s.user = user
		s.authenticated = true
		return nil, StatusOK
	case "SCRAM-SHA1", "SCRAM-SHA256", "SCRAM-SHA512":
		server, err := scramHash(mech).NewServer(s.lookup(scramHash(mech)))
		if err != nil {
			return nil, StatusAuthError
		}
		s.scram = server.NewConversation()
		return s.authStep(data)
	default:
		return nil, StatusAuthError
	}
}

// authStep continues a SCRAM conversation.
func (s *session) authStep(data []byte) ([]byte, Status) {
	if s.scram == nil {
		return nil, StatusAuthError
	}
	resp, err := s.scram.Step(string(data))
	if err != nil {
		s.scram = nil
		return nil, StatusAuthError
	}
	if !s.scram.Done() {
		return []byte(resp), StatusAuthContinue
	}
	if !s.scram.Valid() {
		s.scram = nil
		return nil, StatusAuthError
	}
	s.user = s.scram.Username()
	s.authenticated = true
	s.scram = nil
	return []byte(resp), StatusOK
}

func scramHash(mech string) scram.HashGeneratorFcn {
	switch strings.ToUpper(mech) {
	case "SCRAM-SHA1":
		return scram.SHA1
	case "SCRAM-SHA256":
		return scram.SHA256
	default:
		return scram.SHA512
	}
}

func (s *session) lookup(hash scram.HashGeneratorFcn) scram.CredentialLookup {
	return func(user string) (scram.StoredCredentials, error) {
		password, ok := s.engine.password(user)
		if !ok {
			return scram.StoredCredentials{}, errUnknownUser
		}
		client, err := hash.NewClient(user, password, "")
		if err != nil {
			return scram.StoredCredentials{}, err
		}
		return client.GetStoredCredentials(scram.KeyFactors{Salt: "mcconn-test-salt", Iters: 4096}), nil
	}
}

// admin reports whether the session may manage buckets.
func (s *session) admin() Status {
	if !s.authenticated {
		return StatusNoAccess
	}
	if s.user != AdminUser {
		return StatusNoAccess
	}
	return StatusOK
}

func (s *session) selectBucket(name string) Status {
	if !s.authenticated {
		return StatusNoAccess
	}
	if _, ok := s.engine.bucket(name); !ok {
		return StatusNotFound
	}
	s.bucket = name
	return StatusOK
}
