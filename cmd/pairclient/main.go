// pairclient is a terminal client for the pairing gateway. It connects,
// searches for a stranger, and relays chat lines typed on stdin. WebRTC
// media uses a synthetic source so the client runs headless.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/unimeet/stranger-chat/internal/client"
)

func main() {
	var (
		serverURL string
		username  string
		withMedia bool
	)

	rootCmd := &cobra.Command{
		Use:          "pairclient",
		Short:        "Terminal client for the pairing gateway",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(serverURL, username, withMedia)
		},
	}

	rootCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8080/ws", "gateway WebSocket URL")
	rootCmd.Flags().StringVar(&username, "username", "", "display name shown to strangers (required)")
	rootCmd.Flags().BoolVar(&withMedia, "media", false, "attach a synthetic media track to each pairing")
	_ = rootCmd.MarkFlagRequired("username")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(serverURL, username string, withMedia bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	sig, err := client.Dial(ctx, serverURL, username)
	cancel()
	if err != nil {
		return err
	}
	defer sig.Close()

	var source client.MediaSource
	if withMedia {
		source = client.NewSyntheticSource("cam-front", 30)
	}

	ctrl := client.NewController(sig, source, nil)
	defer ctrl.Close()

	ctrl.OnPaired = func(peerName string) {
		fmt.Printf("* paired with %s — say hi\n", peerName)
	}
	ctrl.OnChat = func(from, text string) {
		fmt.Printf("<%s> %s\n", from, text)
	}
	ctrl.OnPeerLeft = func() {
		fmt.Println("* stranger left, type /search for a new one")
	}

	if err := ctrl.StartSearch(); err != nil {
		return err
	}
	fmt.Println("* searching for a stranger...")
	fmt.Println("* commands: /next  /leave  /search  /switch  /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-sig.Done():
			fmt.Println("* connection closed by server")
			return nil

		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			switch {
			case line == "/quit":
				return nil

			case line == "/next":
				if err := ctrl.Next(); err != nil {
					fmt.Printf("* %v\n", err)
					continue
				}
				fmt.Println("* searching for a new stranger...")

			case line == "/leave":
				if err := ctrl.LeaveQueue(); err != nil {
					fmt.Printf("* %v\n", err)
				} else {
					fmt.Println("* left the queue")
				}

			case line == "/search":
				if err := ctrl.StartSearch(); err != nil {
					fmt.Printf("* %v\n", err)
				} else {
					fmt.Println("* searching for a stranger...")
				}

			case line == "/switch":
				if !withMedia {
					fmt.Println("* media is disabled, start with --media")
					continue
				}
				next := client.NewSyntheticSource(fmt.Sprintf("cam-%d", time.Now().Unix()), 30)
				if err := ctrl.SwitchCamera(next); err != nil {
					fmt.Printf("* camera switch failed, keeping current source: %v\n", err)
				} else {
					fmt.Println("* switched camera")
				}

			case strings.HasPrefix(line, "/"):
				fmt.Printf("* unknown command %s\n", line)

			default:
				if err := ctrl.SendChat(line); err != nil {
					fmt.Printf("* %v\n", err)
				}
			}
		}
	}
}
