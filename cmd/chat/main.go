// Package main provides a terminal client for the chatd conversation server.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xiaot623/relaychat/internal/protocol"
)

var (
	serverURL string
	sessionID string
	plain     bool
	verbose   bool
	askWait   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the relay assistant",
	Long: `Connect to chatd and hold a conversation.

Messages are sent to the text generation model. Attached images are
classified and the result is posted back into the thread.`,
	SilenceUsage: true,
	RunE:         runChat,
}

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "ws://localhost:8090/ws", "chatd WebSocket address")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "resume an existing session")
	rootCmd.PersistentFlags().BoolVar(&plain, "plain", false, "disable colors and markdown rendering")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print every server frame")
	askCmd.Flags().DurationVar(&askWait, "timeout", 90*time.Second, "how long to wait for the reply")
	rootCmd.AddCommand(askCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newTerminalView() *view {
	if plain {
		color.NoColor = true
		return newView(os.Stdout, nil)
	}
	return newView(os.Stdout, glamourMarkdown(80))
}

func connect() (*Client, *protocol.HelloAckMessage, error) {
	client, err := NewClient(serverURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect: %w", err)
	}
	ack, err := client.SendHello(sessionID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, ack, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	fmt.Printf("Connecting to %s...\n", serverURL)

	client, ack, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	v := newTerminalView()
	fmt.Printf("Session established: %s\n\n", client.SessionID())
	fmt.Println(helpText)
	fmt.Println()
	v.Snapshot(ack)

	// Start reading messages in background
	readErr := make(chan error, 1)
	go func() {
		readErr <- client.ReadMessages(func(data []byte) {
			if verbose {
				dumpFrame(data)
			}
			v.Handle(data)
		})
	}()

	// Read user input
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	// Handle Ctrl+C
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	cc := commandContext{base: client.Base, lastEligible: v.LastEligible}
	for {
		select {
		case <-interrupt:
			fmt.Println("\nInterrupted")
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			if line == "/help" {
				fmt.Println(helpText)
				continue
			}

			msg, err := outgoing(line, cc)
			if errors.Is(err, errQuit) {
				fmt.Println("Bye!")
				return nil
			}
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				continue
			}
			if err := client.Send(msg); err != nil {
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	client, ack, err := connect()
	if err != nil {
		return err
	}
	defer client.Close()

	// Replies to this message get ids above everything already in the thread.
	var floor int64
	for _, m := range ack.Messages {
		if m.ID > floor {
			floor = m.ID
		}
	}

	v := newTerminalView()
	text := strings.Join(args, " ")
	if err := client.Send(protocol.SendMessage{BaseMessage: client.Base(protocol.TypeSend), Text: text}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.ReadMessages(func(data []byte) {
			if verbose {
				dumpFrame(data)
			}
			var ev protocol.MessageEvent
			if json.Unmarshal(data, &ev) != nil || ev.Type != protocol.TypeMessage {
				return
			}
			if ev.Message.IsUser || ev.Message.ID <= floor {
				return
			}
			v.Handle(data)
			client.Close()
		})
	}()

	select {
	case <-done:
		return nil
	case <-time.After(askWait):
		return fmt.Errorf("no reply within %s", askWait)
	}
}

// dumpFrame pretty prints a raw server frame to stderr.
func dumpFrame(data []byte) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", data)
		return
	}
	fmt.Fprintf(os.Stderr, "%s\n", pretty.String())
}
