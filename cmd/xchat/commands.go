package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/mdp/qrterminal/v3"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/config"
	"github.com/opd-ai/xchat/crypto"
	"github.com/opd-ai/xchat/envelope"
	"github.com/opd-ai/xchat/keydir"
	"github.com/opd-ai/xchat/session"
	"github.com/opd-ai/xchat/storage"
)

func cmdInit(cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: init takes no arguments", errUsage)
	}

	w, err := openWallet(cfg, true)
	if err != nil {
		return err
	}
	defer w.Close()

	if addrs := w.Addresses(); len(addrs) > 0 {
		return fmt.Errorf("wallet in %s already holds %d address(es)", cfg.WalletDir(), len(addrs))
	}

	address, err := w.NewAddress()
	if err != nil {
		return err
	}
	pub, _ := w.PublicKey(address)
	fmt.Println("Created address", address)
	fmt.Println("Share this link so others can write to you:")
	fmt.Println(contactLink(pub))
	return nil
}

func cmdNewAddress(cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: new-address takes no arguments", errUsage)
	}
	w, err := openWallet(cfg, false)
	if err != nil {
		return err
	}
	defer w.Close()

	address, err := w.NewAddress()
	if err != nil {
		return err
	}
	fmt.Println(address)
	return nil
}

func cmdAddress(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	qr := fs.Bool("qr", false, "render each contact link as a QR code")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	w, err := openWallet(cfg, false)
	if err != nil {
		return err
	}
	defer w.Close()

	for _, address := range w.Addresses() {
		pub, ok := w.PublicKey(address)
		if !ok {
			continue
		}
		link := contactLink(pub)
		fmt.Println(address)
		fmt.Println("  ", link)
		if *qr {
			qrterminal.GenerateWithConfig(link, qrterminal.Config{
				Level:     qrterminal.M,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
			fmt.Println()
		}
	}
	return nil
}

func cmdAdd(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: add <link>", errUsage)
	}

	address, pub, err := parseContactLink(args[0])
	if err != nil {
		return err
	}

	backend, err := storage.OpenSQLite(cfg.KeysPath())
	if err != nil {
		return err
	}
	defer backend.Close()

	if err := keydir.New(backend, nil).PutPublicKey(address, pub); err != nil {
		return err
	}
	fmt.Println("Added", address)
	return nil
}

func cmdPasswd(cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: passwd takes no arguments", errUsage)
	}
	w, err := openWallet(cfg, false)
	if err != nil {
		return err
	}
	defer w.Close()

	passphrase, err := readNewPassphrase()
	if err != nil {
		return err
	}
	if err := w.ChangePassphrase(passphrase); err != nil {
		return err
	}
	fmt.Println("Passphrase changed")
	return nil
}

func cmdSend(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	keyHex := fs.String("key", "", "recipient public key (hex) to pin for this message")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() < 3 {
		return fmt.Errorf("%w: send [-key <hex>] <from> <to> <text>", errUsage)
	}
	from, to, text := fs.Arg(0), fs.Arg(1), strings.Join(fs.Args()[2:], " ")

	var opts []session.ComposeOption
	if *keyHex != "" {
		pub, err := parsePublicKey(*keyHex)
		if err != nil {
			return err
		}
		opts = append(opts, session.WithRecipientKey(pub))
	}

	n, err := openNode(cfg, ":0")
	if err != nil {
		return err
	}
	defer n.Close()

	msg, err := n.ctrl.Compose(from, to, text, opts...)
	if errors.Is(err, session.ErrNoRecipientKey) {
		return fmt.Errorf("%w (add the contact's link first, or pass -key)", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Sent %s\n", msg.ID)
	return nil
}

func cmdHistory(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: history <address>", errUsage)
	}

	n, err := openNode(cfg, ":0")
	if err != nil {
		return err
	}
	defer n.Close()

	messages, err := n.ctrl.LoadConversation(args[0])
	if err != nil {
		return err
	}
	for i := range messages {
		printMessage(&messages[i])
	}
	return nil
}

func cmdContacts(cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: contacts takes no arguments", errUsage)
	}
	backend, err := storage.OpenSQLite(cfg.ConversationsPath())
	if err != nil {
		return err
	}
	defer backend.Close()

	addresses, err := chatdb.New(backend).LoadAddresses()
	if err != nil {
		return err
	}
	for _, address := range addresses {
		fmt.Println(address)
	}
	return nil
}

func cmdClear(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: clear <address>", errUsage)
	}
	n, err := openNode(cfg, ":0")
	if err != nil {
		return err
	}
	defer n.Close()
	return n.ctrl.ClearConversation(args[0])
}

func cmdRemoveMessage(cfg *config.Config, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: rm <address> <id>", errUsage)
	}
	id, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid message id %q: %w", args[1], err)
	}

	n, err := openNode(cfg, ":0")
	if err != nil {
		return err
	}
	defer n.Close()

	found, err := n.ctrl.DeleteMessage(args[0], id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no message %s in the conversation with %s", id, crypto.ShortAddress(args[0]))
	}
	return nil
}

func cmdPending(cfg *config.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: pending takes no arguments", errUsage)
	}
	n, err := openNode(cfg, ":0")
	if err != nil {
		return err
	}
	defer n.Close()

	pending, err := n.ctrl.Pending()
	if err != nil {
		return err
	}
	fmt.Printf("%d message(s) awaiting retry\n", pending)
	return nil
}

func cmdDelete(cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <address>", errUsage)
	}
	n, err := openNode(cfg, ":0")
	if err != nil {
		return err
	}
	defer n.Close()
	return n.ctrl.DeleteCorrespondent(args[0])
}

func cmdListen(cfg *config.Config, args []string) error {
	n, err := openNode(cfg, cfg.ListenAddr)
	if err != nil {
		return err
	}
	defer n.Close()

	n.ctrl.OnNewMessage(func(ev session.Event) {
		fmt.Printf("[%s] %s: %s\n", ev.Message.Date, crypto.ShortAddress(ev.Label), ev.Text)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n.scheduler.Start(ctx)
	// Announce ourselves right away so peers flush what they hold.
	if _, err := n.scheduler.RunNow(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Listening on %s for %d address(es); Ctrl-C to stop\n",
		n.udp.LocalAddr(), len(n.wallet.Addresses()))

	err = n.udp.Listen(ctx, n.ctrl.HandleIncoming)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printMessage(m *envelope.Message) {
	arrow := "->"
	if m.Direction == envelope.Incoming {
		arrow = "<-"
	}
	fmt.Printf("%s %s %s %s %s\n", m.ID, m.Date, arrow, crypto.ShortAddress(m.Correspondent()), m.Text)
}
