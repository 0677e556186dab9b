package game

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"idealtype-bot/imagegen"
	"idealtype-bot/llm"
	"idealtype-bot/storage"
)

// scriptedReply is what fakeProvider streams for one request
type scriptedReply struct {
	fragments []string
	// failAfter > 0 makes the stream fail after that many fragments
	failAfter int
	startErr  error
}

// fakeProvider replays scripted replies and records every request
type fakeProvider struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []llm.ChatRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Close() error { return nil }

func (f *fakeProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (llm.FragmentStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := make([]llm.Message, len(req.Messages))
	copy(msgs, req.Messages)
	f.requests = append(f.requests, llm.ChatRequest{SessionID: req.SessionID, Messages: msgs})

	reply := scriptedReply{fragments: []string{fmt.Sprintf("reply-%d", len(f.requests))}}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	if reply.startErr != nil {
		return nil, reply.startErr
	}
	return &fakeStream{reply: reply}, nil
}

func (f *fakeProvider) lastRequest() llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

var errUpstream = errors.New("upstream reset")

type fakeStream struct {
	reply  scriptedReply
	pos    int
	closed bool
}

func (s *fakeStream) Recv() (string, error) {
	if s.reply.failAfter > 0 && s.pos == s.reply.failAfter {
		return "", errUpstream
	}
	if s.pos >= len(s.reply.fragments) {
		return "", io.EOF
	}
	text := s.reply.fragments[s.pos]
	s.pos++
	return text, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeImages stores a tiny file per prompt, or fails with err
type fakeImages struct {
	store   *storage.ImageStore
	err     error
	prompts []string
}

func (f *fakeImages) Generate(ctx context.Context, prompt string) (*imagegen.ImageReference, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, fmt.Errorf("%w: %w", imagegen.ErrGenerationFailed, f.err)
	}
	path, err := f.store.Save(prompt, []byte("png"))
	if err != nil {
		return nil, err
	}
	return &imagegen.ImageReference{Path: path, Prompt: prompt}, nil
}

// fakeEditor also supports variations and records their sources
type fakeEditor struct {
	fakeImages
	sources []string
}

func (f *fakeEditor) EditFromReference(ctx context.Context, path, prompt string) (*imagegen.ImageReference, error) {
	f.sources = append(f.sources, path)
	return f.Generate(ctx, prompt)
}

func fileExists(path string) bool {
	_, err := os.Stat(filepath.Clean(path))
	return err == nil
}

func fileBase(path string) string {
	return filepath.Base(path)
}
