// gamenet-chat is a line-oriented chat client for a gamenet server: the
// smallest useful consumer of the client package, and a handy smoke tool.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"gamenet/internal/client"
	"gamenet/internal/log"
	"gamenet/internal/proto"
	"gamenet/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		name     string
		logLevel string
	)

	cmd := &cobra.Command{
		Use:           "gamenet-chat",
		Short:         "Chat client for a gamenet server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)
			c := client.NewNetwork(addr, logger)

			c.OnChat(func(msg proto.Message) {
				if text, err := msg.Text(); err == nil {
					fmt.Println(text)
				}
			})
			c.OnSystem(func(msg proto.Message) {
				logger.Info().Str("type", msg.Type).Msg("system message")
			})

			if err := c.Connect(); err != nil {
				return err
			}
			defer c.Disconnect()

			if name != "" {
				if err := c.RegisterName(name); err != nil {
					return err
				}
			}

			fmt.Println("connected; /name <name>, /color <color>, /who, /quit")
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					continue
				}
				if done, err := runCommand(c, line); err != nil {
					logger.Warn().Err(err).Msg("command failed")
				} else if done {
					return nil
				}
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", fmt.Sprintf("localhost:%d", server.DefaultPort), "server address")
	cmd.Flags().StringVar(&name, "name", "", "player name to register on connect")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "log level")
	return cmd
}

// runCommand interprets one input line. Returns done=true on /quit.
func runCommand(c *client.Client, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, c.SendChat(line)
	}

	cmd, rest, _ := strings.Cut(line[1:], " ")
	switch cmd {
	case "quit":
		return true, nil
	case "name":
		if rest == "" {
			return false, fmt.Errorf("usage: /name <name>")
		}
		return false, c.RegisterName(rest)
	case "color":
		if rest == "" {
			return false, fmt.Errorf("usage: /color <color>")
		}
		return false, c.RegisterColor(proto.Color(rest))
	case "who":
		for _, ci := range c.Roster() {
			marker := " "
			if ci.ID == c.ID() {
				marker = "*"
			}
			fmt.Printf("%s %3d  %-20s %s\n", marker, ci.ID, ci.Name, ci.Color)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %q", cmd)
	}
}
