package sshgate

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/crypto/ssh"

	"github.com/ledzpl/wschat/internal/relay"
)

const (
	keyInterrupt = 0x03
	keyEOT       = 0x04
	keyBackspace = '\b'
	keyDelete    = 0x7f
)

const timestampLayout = "15:04:05"

var (
	errLeft        = errors.New("user left")
	errNoShell     = errors.New("channel closed before a shell was requested")
	errLineTooLong = errors.New("line too long")
)

type session struct {
	gateway  *Gateway
	id       relay.PeerID
	username string
	logger   *slog.Logger

	channel  ssh.Channel
	requests <-chan *ssh.Request

	outbox     *relay.Outbox
	registered bool
	input      *inputLine
	term       *terminal

	workers sync.WaitGroup
	cleanup sync.Once
}

func newSession(g *Gateway, id relay.PeerID, username string, channel ssh.Channel, requests <-chan *ssh.Request) *session {
	return &session{
		gateway:  g,
		id:       id,
		username: username,
		logger:   g.logger.With("peer", id, "username", username),
		channel:  channel,
		requests: requests,
		outbox:   relay.NewOutbox(g.outboxSize, g.policy),
		input:    newInputLine(maxInputRunes),
		term:     newTerminal(channel),
	}
}

func (s *session) run() {
	defer s.close()

	if err := s.join(); err != nil {
		if !errors.Is(err, errNoShell) {
			s.logger.Warn("SSH session rejected", "error", err)
			_ = s.term.Println(fmt.Sprintf("[system] %v", err))
		}
		return
	}

	err := s.readLoop()
	switch {
	case err == nil, errors.Is(err, errLeft), errors.Is(err, io.EOF):
	default:
		s.logger.Warn("SSH read failed", "error", err)
	}
}

func (s *session) join() error {
	if err := s.awaitShell(); err != nil {
		return err
	}
	if err := s.term.Reset(); err != nil {
		return fmt.Errorf("prepare terminal: %w", err)
	}

	if err := s.gateway.registry.Register(s.id, s.outbox); err != nil {
		return &relay.IdentityError{Peer: s.id, Err: err}
	}
	s.registered = true
	s.logger.Info("Peer joined", "transport", "ssh")

	s.startDelivery()

	if err := s.show(fmt.Sprintf("Welcome to wschat, %s!", s.username)); err != nil {
		return err
	}
	return s.show("Type a message and press enter to send it. Ctrl+D leaves.")
}

// awaitShell answers channel requests until the client asks for a shell.
func (s *session) awaitShell() error {
	for req := range s.requests {
		if !answer(req) {
			continue
		}

		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			for req := range s.requests {
				answer(req)
			}
		}()
		return nil
	}
	return errNoShell
}

// answer replies to req and reports whether it was the shell request.
func answer(req *ssh.Request) bool {
	switch req.Type {
	case "shell":
		_ = req.Reply(true, nil)
		return true
	case "pty-req", "env", "window-change", "signal":
		_ = req.Reply(true, nil)
	default:
		_ = req.Reply(false, nil)
	}
	return false
}

// startDelivery prints relayed messages until the outbox closes. A failed write
// closes the channel so the read loop stops as well.
func (s *session) startDelivery() {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		for {
			select {
			case msg := <-s.outbox.Messages():
				if err := s.show(stamp(msg)); err != nil {
					s.logger.Debug("SSH write failed", "error", err)
					_ = s.channel.Close()
					return
				}
			case <-s.outbox.Done():
				_ = s.channel.Close()
				return
			}
		}
	}()
}

func (s *session) readLoop() error {
	reader := bufio.NewReader(s.channel)

	for {
		r, _, err := reader.ReadRune()
		if errors.Is(err, io.EOF) {
			_ = s.send(s.input.Take())
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.handleKey(reader, r); err != nil {
			return err
		}
	}
}

func (s *session) handleKey(reader *bufio.Reader, r rune) error {
	switch r {
	case '\r', '\n':
		// CRLF counts as one line break.
		if r == '\r' && reader.Buffered() > 0 {
			if next, _, err := reader.ReadRune(); err == nil && next != '\n' {
				_ = reader.UnreadRune()
			}
		}
		if err := s.send(s.input.Take()); err != nil {
			return err
		}
		return s.prompt()
	case keyInterrupt, keyEOT:
		s.input.Clear()
		label := "^C"
		if r == keyEOT {
			label = "^D"
		}
		_ = s.term.Println(label)
		return errLeft
	case keyBackspace, keyDelete:
		s.input.Backspace()
		return s.prompt()
	default:
		if !unicode.IsPrint(r) {
			return nil
		}
		if !s.input.Append(r) {
			return s.show(fmt.Sprintf("[system] %v", errLineTooLong))
		}
		return s.prompt()
	}
}

// send relays text to every other peer and echoes it locally. Blank lines are dropped.
func (s *session) send(text string) error {
	content := strings.TrimSpace(text)
	if content == "" {
		return nil
	}

	msg := relay.ChatMessage{Username: s.username, Content: content}
	delivered := s.gateway.registry.Broadcast(s.id, msg)
	s.logger.Debug("Relayed message", "recipients", delivered)

	return s.term.Println(stamp(msg))
}

func (s *session) show(line string) error {
	if err := s.term.Println(line); err != nil {
		return err
	}
	return s.prompt()
}

func (s *session) prompt() error {
	status := fmt.Sprintf("wschat | %s | peers online: %d", s.username, s.gateway.registry.Len())
	return s.term.Prompt(status, s.input.String())
}

func (s *session) close() {
	s.cleanup.Do(func() {
		if s.registered {
			s.gateway.registry.Unregister(s.id)
			s.logger.Info("Peer left", "transport", "ssh", "dropped", s.outbox.Dropped())
		}
		s.outbox.Close()
		_ = s.channel.Close()
		s.workers.Wait()
	})
}

func stamp(msg relay.ChatMessage) string {
	return fmt.Sprintf("[%s] %s", time.Now().Format(timestampLayout), msg)
}
