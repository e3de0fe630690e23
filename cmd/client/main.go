package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gookit/color"

	"github.com/andy6609/direct-chat-server/internal/client"
	"github.com/andy6609/direct-chat-server/internal/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "chat server address")
	flag.Parse()

	if err := run(*addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(addr string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c, err := client.Dial(ctx, addr)
	cancel()
	if err != nil {
		return fmt.Errorf("could not connect to %s, is the server running? %w", addr, err)
	}
	var quitting atomic.Bool
	defer func() {
		quitting.Store(true)
		_ = c.Close()
	}()

	input := bufio.NewScanner(os.Stdin)
	fmt.Print("Enter your username: ")
	if !input.Scan() {
		return nil
	}
	if err := c.Register(strings.TrimSpace(input.Text())); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	go receive(c, &quitting)

	fmt.Println()
	fmt.Println(client.Help)
	for input.Scan() {
		cmd, err := client.ParseCommand(input.Text())
		if err != nil {
			fmt.Println(err)
			continue
		}
		switch cmd.Kind {
		case client.CommandQuit:
			return nil
		case client.CommandHelp:
			fmt.Println(client.Help)
		case client.CommandChat:
			err = c.ChatRequest(cmd.Target)
		case client.CommandMessage:
			err = c.Message(cmd.Target, cmd.Content)
		}
		if err != nil {
			color.Red.Printf("Error sending message: %v\n", err)
		}
	}
	return nil
}

func receive(c *client.Client, quitting *atomic.Bool) {
	for {
		e, err := c.Receive()
		if err != nil {
			if quitting.Load() {
				return
			}
			color.Red.Println("\nLost connection to server")
			os.Exit(1)
		}
		line := "\n" + client.Format(e)
		switch e.Kind {
		case protocol.KindError:
			color.Red.Println(line)
		case protocol.KindSystem:
			color.Yellow.Println(line)
		default:
			color.Cyan.Println(line)
		}
	}
}
