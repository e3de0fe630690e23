package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/andy6609/direct-chat-server/internal/protocol"
)

type CommandKind int

const (
	CommandChat CommandKind = iota
	CommandMessage
	CommandQuit
	CommandHelp
)

type Command struct {
	Kind    CommandKind
	Target  string
	Content string
}

var (
	ErrUnknownCommand = errors.New("unknown command, type /help for commands")
	ErrChatUsage      = errors.New("usage: /chat <username>")
	ErrMessageUsage   = errors.New("usage: /message <username> <message>")
)

const Help = `Commands:
/chat <username> - Start chat with user
/message <username> <message> - Send message to user
/quit - Exit the chat`

// ParseCommand reads one input line. The message text is everything after
// the target name, inner spacing preserved.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	name, rest, _ := strings.Cut(line, " ")
	switch name {
	case "/quit":
		return Command{Kind: CommandQuit}, nil
	case "/help":
		return Command{Kind: CommandHelp}, nil
	case "/chat":
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return Command{}, ErrChatUsage
		}
		return Command{Kind: CommandChat, Target: fields[0]}, nil
	case "/message":
		target, content, ok := strings.Cut(strings.TrimLeft(rest, " \t"), " ")
		content = strings.TrimLeft(content, " \t")
		if !ok || target == "" || content == "" {
			return Command{}, ErrMessageUsage
		}
		return Command{Kind: CommandMessage, Target: target, Content: content}, nil
	default:
		return Command{}, ErrUnknownCommand
	}
}

// Format renders a server envelope for display.
func Format(e protocol.Envelope) string {
	switch e.Kind {
	case protocol.KindError:
		return "Error: " + e.Text
	case protocol.KindSystem:
		return "System: " + e.Text
	case protocol.KindDelivery:
		return fmt.Sprintf("From %s: %s", e.From, e.Content)
	default:
		return fmt.Sprintf("%s: %+v", e.Kind, e)
	}
}
