// Command xchat is a store-and-forward encrypted messenger for broadcast
// networks.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/xchat/config"
)

func usage(msg ...any) {
	fmt.Fprintln(os.Stderr,
		`xchat exchanges end-to-end encrypted messages over a broadcast network.
Messages that are not acknowledged are re-sent until they expire.

General format:

  xchat command ...

Identity Commands:
  init                         - create the wallet and a first address
  address [-qr]                - list local addresses with their contact links
  new-address                  - add another local address
  add <link>                   - learn a contact's key from an xchat: link
  passwd                       - change the wallet passphrase

Message Commands:
  send [-key <hex>] <from> <to> <text>
                               - send text from a local address
  history <address>            - show the conversation with address, with message ids
  rm <address> <id>            - delete one message from a conversation
  contacts                     - list correspondents
  clear <address>              - empty the conversation with address
  delete <address>             - forget address and its conversation
  pending                      - count sent messages still being retried
  listen                       - receive and retry until interrupted

Settings are read from XCHAT_* environment variables; the wallet passphrase
from XCHAT_PASSPHRASE or the terminal (XCHAT_NEW_PASSPHRASE for passwd).`)

	if len(msg) > 0 {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, msg...)
	}
	os.Exit(2)
}

func exit(code int, err error) {
	fmt.Fprintln(os.Stderr, "xchat:", err)
	os.Exit(code)
}

var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		exit(1, err)
	}
	cfg.ConfigureLogging()

	command, args := os.Args[1], os.Args[2:]

	switch command {
	case "init":
		err = cmdInit(cfg, args)
	case "address":
		err = cmdAddress(cfg, args)
	case "new-address":
		err = cmdNewAddress(cfg, args)
	case "add":
		err = cmdAdd(cfg, args)
	case "passwd":
		err = cmdPasswd(cfg, args)
	case "send":
		err = cmdSend(cfg, args)
	case "history":
		err = cmdHistory(cfg, args)
	case "contacts":
		err = cmdContacts(cfg, args)
	case "clear":
		err = cmdClear(cfg, args)
	case "rm":
		err = cmdRemoveMessage(cfg, args)
	case "pending":
		err = cmdPending(cfg, args)
	case "delete":
		err = cmdDelete(cfg, args)
	case "listen":
		err = cmdListen(cfg, args)
	case "help", "-h", "--help":
		usage()
	default:
		usage("unknown command:", command)
	}

	if errors.Is(err, errUsage) {
		usage(err.Error())
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"command":  command,
		}).Debug(err.Error())
		exit(1, err)
	}
}
