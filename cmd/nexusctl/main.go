// Command nexusctl talks to a wsnexus relay from the terminal.
//
//	nexusctl list                          print every hosted session
//	nexusctl host NAME [key=value ...]     host a session; stdin lines are sent
//	                                       to clients, "@1,2 text" targets ids
//	nexusctl join NAME                     join a session; stdin lines go to the host
//	nexusctl join --or-host NAME           join, or host when nobody does
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/wricardo/wsnexus/logging"
	"github.com/wricardo/wsnexus/nexus"
)

const connectTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdin, os.Stdout).Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCommand(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "nexusctl",
		Usage: "host, join and list sessions on a wsnexus relay",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   nexus.DefaultURL,
				Usage:   "relay address",
				Sources: cli.EnvVars("NEXUS_URL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Sources: cli.EnvVars("NEXUS_LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, logging.InitLog(cmd.String("log-level"), "console")
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "print the public descriptor of every hosted session",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runList(ctx, cmd, out)
				},
			},
			{
				Name:      "host",
				Usage:     "host a session and relay stdin to its clients",
				ArgsUsage: "NAME [key=value ...]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max-clients", Usage: "refuse joins past this many clients (0 is unbounded)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runHost(ctx, cmd, in, out)
				},
			},
			{
				Name:      "join",
				Usage:     "join a session and relay stdin to its host",
				ArgsUsage: "NAME | --id ID",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "id", Usage: "join by host id instead of name"},
					&cli.BoolFlag{Name: "or-host", Usage: "host the session when nobody does"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return runJoin(ctx, cmd, in, out)
				},
			},
		},
	}
}

// dial connects without missed-event warnings; nexusctl only listens to what it prints
func dial(cmd *cli.Command) *nexus.Nexus {
	return nexus.New(cmd.String("url"), nexus.WithIgnoreWarnings())
}

func runList(ctx context.Context, cmd *cli.Command, out io.Writer) error {
	n := dial(cmd)
	defer n.Close("", 0)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	hosts, err := n.ListHosts(ctx)
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Fprintln(out, "No hosts.")
		return nil
	}
	for _, h := range hosts {
		line, err := json.Marshal(h)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(line))
	}
	return nil
}

func runHost(ctx context.Context, cmd *cli.Command, in io.Reader, out io.Writer) error {
	if cmd.Args().Len() == 0 {
		return errors.New("host needs a NAME")
	}
	fields, err := parseFields(cmd.Args().Tail())
	if err != nil {
		return err
	}
	fields["name"] = cmd.Args().First()
	if limit := cmd.Int("max-clients"); limit > 0 {
		fields["maxClients"] = limit
	}

	n := dial(cmd)
	defer n.Close("", 0)

	n.OnNewClient().On(func(c nexus.NewClient) { fmt.Fprintf(out, "* client %d joined\n", c.ID) })
	n.OnLostClient().On(func(id int) { fmt.Fprintf(out, "* client %d left\n", id) })
	n.OnMessage().On(func(m nexus.Message) { fmt.Fprintln(out, formatMessage(m)) })

	hosting, err := n.Host(fields)
	if err != nil {
		return err
	}
	public, err := await(ctx, hosting.Wait)
	if err != nil {
		return err
	}
	id, _ := public.ID()
	fmt.Fprintf(out, "* hosting %q as #%d\n", public.Name(), id)

	return pump(ctx, n, in, func(line string) error {
		payload, ids, err := parseLine(line)
		if err != nil {
			fmt.Fprintf(out, "! %s\n", err)
			return nil
		}
		return n.Send(payload, ids...)
	})
}

func runJoin(ctx context.Context, cmd *cli.Command, in io.Reader, out io.Writer) error {
	var d nexus.Descriptor
	switch {
	case cmd.Int("id") > 0:
		d = nexus.ID(cmd.Int("id"))
	case cmd.Args().Len() > 0:
		d = nexus.Name(cmd.Args().First())
	default:
		return errors.New("join needs a NAME or --id")
	}

	n := dial(cmd)
	defer n.Close("", 0)
	n.OnMessage().On(func(m nexus.Message) { fmt.Fprintln(out, formatMessage(m)) })

	join := n.Join
	if cmd.Bool("or-host") {
		n.OnNewClient().On(func(c nexus.NewClient) { fmt.Fprintf(out, "* client %d joined\n", c.ID) })
		join = n.JoinOrHost
	}
	state, err := join(d)
	if err != nil {
		return err
	}
	host, err := await(ctx, state.Wait)
	if err != nil {
		return err
	}
	if n.Role() == nexus.RoleHost {
		fmt.Fprintf(out, "* nobody hosts %q, hosting it\n", host.Name())
	} else {
		fmt.Fprintf(out, "* joined %q\n", host.Name())
	}

	return pump(ctx, n, in, func(line string) error {
		payload, ids, err := parseLine(line)
		if err != nil {
			fmt.Fprintf(out, "! %s\n", err)
			return nil
		}
		return n.Send(payload, ids...)
	})
}

// await bounds a state wait by the connect timeout
func await[T any](ctx context.Context, wait func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return wait(ctx)
}

// pump hands stdin lines to send until stdin ends, ctx is done or the relay
// closes the connection.
func pump(ctx context.Context, n *nexus.Nexus, in io.Reader, send func(string) error) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-n.WhenClosed().Done():
			info, _ := n.WhenClosed().Wait(context.Background())
			return fmt.Errorf("connection closed: %d %s", info.Code, info.Reason)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line == "" {
				continue
			}
			if err := send(line); err != nil {
				return err
			}
		}
	}
}
