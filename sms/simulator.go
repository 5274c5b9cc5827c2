package sms

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SimulatedPrefix starts every SID produced by Simulator.
const SimulatedPrefix = "SIM"

// SentMessage is one message captured by a Simulator.
type SentMessage struct {
	To   string
	Body string
	Opts Options
}

// Simulator performs no side effects. It logs the message and returns a
// result marked Simulated so callers never treat it as a confirmed send.
type Simulator struct {
	mu   sync.Mutex
	Sent []SentMessage
}

func NewSimulator() *Simulator {
	return &Simulator{}
}

func (s *Simulator) Available() bool { return true }

func (s *Simulator) Send(_ context.Context, to, body string, opts Options) (*Result, error) {
	s.mu.Lock()
	s.Sent = append(s.Sent, SentMessage{To: to, Body: body, Opts: opts})
	s.mu.Unlock()

	sid := SimulatedPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	logrus.WithFields(logrus.Fields{
		"to":  to,
		"tag": opts.Tag,
		"sid": sid,
	}).Info("sms simulated: " + body)

	return &Result{SID: sid, Status: "simulated", To: to, Simulated: true}, nil
}

// IsSimulated reports whether r came from a Simulator.
func IsSimulated(r *Result) bool {
	return r != nil && (r.Simulated || strings.HasPrefix(r.SID, SimulatedPrefix))
}
