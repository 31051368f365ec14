package relay

import (
	"context"
	"sync"

	"github.com/suPer8Hu/chat-relay/internal/ai"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls [][]ai.Message
	fn    func(msgs []ai.Message) (string, error)
}

func (p *fakeProvider) Chat(_ context.Context, msgs []ai.Message) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]ai.Message(nil), msgs...))
	p.mu.Unlock()
	if p.fn == nil {
		return "reply to " + msgs[len(msgs)-1].Content, nil
	}
	return p.fn(msgs)
}

func (p *fakeProvider) Calls() [][]ai.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]ai.Message(nil), p.calls...)
}

type sentReply struct {
	token string
	texts []string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentReply
	err  error
}

func (s *fakeSender) Dispatch(_ context.Context, token string, texts ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentReply{token: token, texts: texts})
	return s.err
}

func (s *fakeSender) Last() sentReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return sentReply{}
	}
	return s.sent[len(s.sent)-1]
}

type fakeReplier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (r *fakeReplier) Reply(_ context.Context, _ string, _ ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

type fakeProfiles struct {
	name string
	err  error
}

func (f fakeProfiles) DisplayName(context.Context, string) (string, error) {
	return f.name, f.err
}
