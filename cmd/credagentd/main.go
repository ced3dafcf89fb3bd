// Program credagentd serves the SSH agent socket and the passkey/status IPC
// socket: an embeddable local credential agent. It implements no UI of its
// own; an embedder drives agentproto.Server's approval channel and
// passkey.Broker's requests to connect this plumbing to an actual prompt.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/creachadair/taskgroup"

	"github.com/thornfield-labs/credagent/agentproto"
	"github.com/thornfield-labs/credagent/ipc"
	"github.com/thornfield-labs/credagent/keystore"
	"github.com/thornfield-labs/credagent/passkey"
	"github.com/thornfield-labs/credagent/securestore"
	"github.com/thornfield-labs/credagent/transport"
)

var flags struct {
	SSHSocket    string `flag:"ssh-socket,SSH agent socket path (default: platform-specific)"`
	StatusSocket string `flag:"status-socket,Passkey/status IPC socket path (default: platform-specific)"`
	AppName      string `flag:"app-name,App name used to derive the default status socket path"`
}

const defaultAppName = "credential-agent"

func main() {
	root := &command.C{
		Name:     command.ProgramName(),
		Help:     "Serve the SSH agent and passkey/status IPC sockets.",
		SetFlags: command.Flags(flax.MustBind, &flags),
		Run:      command.Adapt(run),
		Commands: []*command.C{
			command.HelpCommand(nil),
			command.VersionCommand(),
		},
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	command.RunOrFail(root.NewEnv(nil).SetContext(ctx), os.Args[1:])
}

func run(env *command.Env) error {
	sshSocket := flags.SSHSocket
	if sshSocket == "" {
		sshSocket = transport.AgentSocketPath()
	}
	appName := flags.AppName
	if appName == "" {
		appName = defaultAppName
	}
	statusSocket := flags.StatusSocket
	if statusSocket == "" {
		statusSocket = transport.StatusSocketPath(appName)
	}

	sshLst, err := transport.Listen(sshSocket)
	if err != nil {
		return fmt.Errorf("listen ssh-socket: %w", err)
	}
	defer os.Remove(sshSocket)

	statusLst, err := transport.Listen(statusSocket)
	if err != nil {
		return fmt.Errorf("listen status-socket: %w", err)
	}
	defer os.Remove(statusSocket)

	secrets, err := securestore.New(securestore.WithLogf(log.Printf))
	if err != nil {
		return fmt.Errorf("initialize secure store: %w", err)
	}
	defer secrets.Close()

	keys := keystore.NewStore()
	approvals := agentproto.NewApprovalChannel(32)

	agentSrv := agentproto.NewServer(agentproto.Config{
		Keys:      keys,
		Approvals: approvals,
		Logf:      log.Printf,
	})
	defer agentSrv.Stop()

	ipcSrv := ipc.NewServer(log.Printf)
	sender := &activeClientSender{server: ipcSrv}
	broker := passkey.NewBroker(sender, log.Printf)

	var g taskgroup.Group
	g.Run(func() { agentSrv.Serve(env.Context(), sshLst) })
	g.Run(func() { ipcSrv.Serve(env.Context(), statusLst) })
	g.Run(func() { dispatchIPCEvents(env.Context(), ipcSrv, sender, broker) })
	g.Run(func() { logApprovalRequests(env.Context(), approvals) })

	g.Wait()
	return nil
}

// activeClientSender targets the most recently connected status-socket
// client, the way a single embedder process is expected to hold exactly
// one live connection to the agent at a time. Send fails with a plain error
// when nothing is connected, which Broker.Send reports as an
// *passkey.InternalError.
type activeClientSender struct {
	server *ipc.Server
	client atomic.Uint64
	live   atomic.Bool
}

func (s *activeClientSender) Send(msg any) error {
	if !s.live.Load() {
		return errors.New("credagentd: no status-socket client connected")
	}
	return s.server.Send(ipc.ClientID(s.client.Load()), msg)
}

// dispatchIPCEvents feeds every inbound status-socket message to the
// broker and tracks which client is currently "active" for outbound sends.
func dispatchIPCEvents(ctx context.Context, srv *ipc.Server, sender *activeClientSender, broker *passkey.Broker) {
	for {
		select {
		case ev, ok := <-srv.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case ipc.EventConnected:
				sender.client.Store(uint64(ev.Client))
				sender.live.Store(true)
			case ipc.EventDisconnected:
				if ipc.ClientID(sender.client.Load()) == ev.Client {
					sender.live.Store(false)
				}
			case ipc.EventMessage:
				broker.Dispatch(ev.Message)
			}
		case <-ctx.Done():
			return
		}
	}
}

// logApprovalRequests reports every pending UI approval request so the
// daemon is observable even before an embedder wires a real prompt to
// approvals.Decide.
func logApprovalRequests(ctx context.Context, approvals *agentproto.ApprovalChannel) {
	for {
		select {
		case req := <-approvals.Requests():
			log.Printf("credagentd: approval requested: kind=%s process=%q forwarding=%v", req.Kind, req.ProcessName, req.IsForwarding)
		case <-ctx.Done():
			return
		}
	}
}
