// Package sasl implements the client side of the SASL mechanisms accepted by
// memcached: PLAIN and SCRAM-SHA1/256/512.
//
// A connection drives a Mechanism through the server exchange:
//
//	mech, err := sasl.NewMechanism("SCRAM-SHA256", user, password)
//	resp, err := mech.Start() // sent with the AUTH command
//	for server answers "continue" {
//	    resp, err = mech.Next(challenge) // sent with the STEP command
//	}
//	err = mech.Verify(final) // data of the success reply
package sasl

import (
	"errors"
	"fmt"
	"strings"
)

// Mechanism names as advertised by the server.
const (
	Plain       = "PLAIN"
	ScramSHA1   = "SCRAM-SHA1"
	ScramSHA256 = "SCRAM-SHA256"
	ScramSHA512 = "SCRAM-SHA512"
)

var ErrUnsupportedMechanism = errors.New("sasl: unsupported mechanism")

// Mechanism is one client authentication conversation. It is not reusable.
type Mechanism interface {
	// Name returns the mechanism name sent to the server.
	Name() string
	// Start returns the initial client response.
	Start() ([]byte, error)
	// Next answers a server challenge.
	Next(challenge []byte) ([]byte, error)
	// Verify checks the data carried by the final success reply.
	Verify(final []byte) error
}

// NewMechanism creates a conversation for the named mechanism. Names are
// matched case-insensitively.
func NewMechanism(name, username, password string) (Mechanism, error) {
	switch strings.ToUpper(name) {
	case Plain:
		return &plain{username: username, password: password}, nil
	case ScramSHA1, ScramSHA256, ScramSHA512:
		return newScram(strings.ToUpper(name), username, password)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMechanism, name)
	}
}

// preference lists the supported mechanisms, strongest first.
var preference = []string{ScramSHA512, ScramSHA256, ScramSHA1, Plain}

// Choose returns the strongest supported mechanism out of the server's list.
func Choose(available []string) (string, error) {
	for _, want := range preference {
		for _, have := range available {
			if strings.EqualFold(want, have) {
				return want, nil
			}
		}
	}
	return "", fmt.Errorf("%w: none of %v", ErrUnsupportedMechanism, available)
}

// ParseList splits a space separated mechanism list.
func ParseList(list string) []string {
	return strings.Fields(list)
}

type plain struct {
	username string
	password string
}

func (p *plain) Name() string { return Plain }

func (p *plain) Start() ([]byte, error) {
	buf := make([]byte, 0, len(p.username)+len(p.password)+2)
	buf = append(buf, 0)
	buf = append(buf, p.username...)
	buf = append(buf, 0)
	buf = append(buf, p.password...)
	return buf, nil
}

func (p *plain) Next([]byte) ([]byte, error) {
	return nil, errors.New("sasl: PLAIN does not accept challenges")
}

func (p *plain) Verify([]byte) error {
	return nil
}
