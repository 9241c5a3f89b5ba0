// BEEChat CLI - command line client for BEEChat
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/beechat/clients/go/beechat"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := beechat.NewClient(os.Getenv("BEECHAT_URL"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "children":
		need(args, 1, "children <parent_id>")
		resp, err := client.Children(ctx, args[0])
		exitOnError(err)
		printJSON(resp)

	case "parent":
		need(args, 1, "parent <username>")
		exitOnError(client.Dial(ctx))
		defer client.Close()
		p, err := client.RegisterParent(args[0], "")
		exitOnError(err)
		fmt.Printf("Registered parent: %s\n", p.ID)
		fmt.Println("Commands: logs <child_id>, locate <child_id>")
		interactive(client, func(line string) error {
			verb, childID, _ := strings.Cut(line, " ")
			switch verb {
			case "logs":
				return client.Emit("parent:getSafetyLogs", childID)
			case "locate":
				return client.Emit("parent:getLocation", childID)
			}
			fmt.Fprintln(os.Stderr, "unknown command:", verb)
			return nil
		})

	case "child":
		need(args, 3, "child <parent_id> <username> <age>")
		age, err := strconv.Atoi(args[2])
		exitOnError(err)
		exitOnError(client.Dial(ctx))
		defer client.Close()
		c, err := client.RegisterChild(beechat.ChildRegistration{Username: args[1], Age: age, ParentID: args[0]})
		exitOnError(err)
		fmt.Printf("Registered child: %s\n", c.ID)
		fmt.Println("Type a message for your parent, or: locate <lat> <lng>, voice <audio_url> <seconds>")
		interactive(client, func(line string) error {
			if rest, ok := strings.CutPrefix(line, "locate "); ok {
				lat, lng, err := parseLatLng(rest)
				if err != nil {
					return err
				}
				return client.UpdateLocation(lat, lng, nil)
			}
			if rest, ok := strings.CutPrefix(line, "voice "); ok {
				audioURL, secs, _ := strings.Cut(rest, " ")
				duration, err := strconv.ParseFloat(strings.TrimSpace(secs), 64)
				if err != nil {
					return fmt.Errorf("invalid duration: %w", err)
				}
				return client.Emit("message:voice", beechat.VoiceRequest{AudioURL: audioURL, Duration: duration, RecipientID: c.ParentID})
			}
			return client.Emit("message:send", beechat.SendRequest{Content: line, RecipientID: c.ParentID})
		})

	case "send":
		need(args, 4, "send <parent_id> <username> <recipient_id> <message>")
		exitOnError(client.Dial(ctx))
		defer client.Close()
		_, err := client.RegisterChild(beechat.ChildRegistration{Username: args[1], Age: 10, ParentID: args[0]})
		exitOnError(err)
		res, err := client.Send(beechat.SendRequest{Content: strings.Join(args[3:], " "), RecipientID: args[2]})
		exitOnError(err)
		if res.Blocked != nil {
			fmt.Printf("Blocked: %s %v\n", res.Blocked.Reason, res.Blocked.Flags)
			return
		}
		fmt.Printf("Sent: %s\n", res.Message.ID)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// interactive prints every server event while feeding stdin lines to handle.
func interactive(client *beechat.Client, handle func(line string) error) {
	client.Timeout = 24 * time.Hour
	go func() {
		for {
			ev, err := client.Next()
			if err != nil {
				fmt.Fprintln(os.Stderr, "Disconnected:", err)
				os.Exit(1)
			}
			fmt.Printf("<- %s %s\n", ev.Name, ev.Data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handle(line); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
}

func parseLatLng(s string) (float64, float64, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected <lat> <lng>")
	}
	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, 0, err
	}
	lng, err := strconv.ParseFloat(parts[1], 64)
	return lat, lng, err
}

func need(args []string, n int, syntax string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, "Usage: beechat", syntax)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`BEEChat CLI - supervised chat for families

Usage: beechat <command> [options]

Commands:
  health                                     Check server health
  children <parent_id>                       List a parent's children
  parent <username>                          Connect as a parent (logs, locate)
  child <parent_id> <username> <age>         Connect as a child and chat
  send <parent_id> <username> <to> <msg>     Send one message as a new child

Environment:
  BEECHAT_URL   Server URL (default: http://localhost:3001)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
