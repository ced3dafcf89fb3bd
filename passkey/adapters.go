package passkey

import "github.com/thornfield-labs/credagent/ipc"

// ServerSender adapts one client of an *ipc.Server to the Sender interface,
// so a Broker on the vault-app side can target a specific credential
// provider connection instead of broadcasting.
type ServerSender struct {
	Server *ipc.Server
	Client ipc.ClientID
}

func (s ServerSender) Send(msg any) error { return s.Server.Send(s.Client, msg) }
