package main

import (
	"fmt"

	"github.com/opd-ai/xchat/chatdb"
	"github.com/opd-ai/xchat/config"
	"github.com/opd-ai/xchat/keydir"
	"github.com/opd-ai/xchat/retry"
	"github.com/opd-ai/xchat/session"
	"github.com/opd-ai/xchat/storage"
	"github.com/opd-ai/xchat/transport"
	"github.com/opd-ai/xchat/wallet"
)

// node is a fully wired local instance.
type node struct {
	cfg       *config.Config
	wallet    *wallet.Wallet
	convs     *storage.SQLite
	keyStore  *storage.SQLite
	db        *chatdb.DB
	registry  *chatdb.Registry
	keys      *keydir.Directory
	udp       *transport.UDP
	engine    *retry.Engine
	scheduler *retry.Scheduler
	ctrl      *session.Controller
}

// openWallet unlocks the wallet, prompting for the passphrase if needed.
func openWallet(cfg *config.Config, confirm bool) (*wallet.Wallet, error) {
	passphrase, err := readPassphrase(confirm)
	if err != nil {
		return nil, err
	}
	return wallet.Open(cfg.WalletDir(), passphrase)
}

// openNode opens every store and a UDP transport bound to listenAddr.
func openNode(cfg *config.Config, listenAddr string) (_ *node, err error) {
	n := &node{cfg: cfg}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	if n.wallet, err = openWallet(cfg, false); err != nil {
		return nil, err
	}
	if n.convs, err = storage.OpenSQLite(cfg.ConversationsPath()); err != nil {
		return nil, err
	}
	if n.keyStore, err = storage.OpenSQLite(cfg.KeysPath()); err != nil {
		return nil, err
	}
	if n.udp, err = transport.NewUDP(listenAddr, cfg.BroadcastAddr); err != nil {
		return nil, err
	}

	n.db = chatdb.New(n.convs)
	n.registry = chatdb.NewRegistry(n.db, cfg.MessageTTL, nil)
	n.keys = keydir.New(n.keyStore, nil)

	n.engine = retry.NewEngine(n.registry, n.udp, nil)
	n.engine.SetCooldown(cfg.RetryCooldown)
	n.scheduler = retry.NewScheduler(n.engine, n.wallet, retry.SchedulerConfig{
		InitialInterval: cfg.RetryInitialInterval,
		SteadyInterval:  cfg.RetrySteadyInterval,
		InitialAttempts: cfg.RetryInitialAttempts,
	})

	n.ctrl, err = session.New(session.Options{
		DB:             n.db,
		Registry:       n.registry,
		Engine:         n.engine,
		Wallet:         n.wallet,
		Keys:           n.keys,
		MessageTTL:     cfg.MessageTTL,
		MaxMessageSize: cfg.MaxMessageSize,
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return n, nil
}

// Close stops the scheduler and releases every resource in reverse order.
func (n *node) Close() {
	if n.scheduler != nil {
		n.scheduler.Stop()
	}
	if n.udp != nil {
		n.udp.Close()
	}
	if n.keyStore != nil {
		n.keyStore.Close()
	}
	if n.convs != nil {
		n.convs.Close()
	}
	if n.wallet != nil {
		n.wallet.Close()
	}
}
