// Package client is the user-facing surface of the sync core: it wires the
// subscription manager, reconciler, broadcaster, and enrichment join into
// per-topic views.
//
// A Client is an explicit connection context constructed from its
// collaborators; nothing here is a process-wide singleton, so tests run
// against fake transports.
package client

import (
	"github.com/rs/zerolog"

	"github.com/cyb3rh3ad/auradesk/internal/actor"
	"github.com/cyb3rh3ad/auradesk/internal/subscription"
	"github.com/cyb3rh3ad/auradesk/internal/transport"
)

// Options tunes a Client.
type Options struct {
	// SnapshotLimit bounds the initial/resync snapshot fetch. <= 0 means all.
	SnapshotLimit int
	// Subscription tunes channel retry behavior.
	Subscription subscription.Config
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{SnapshotLimit: 100, Subscription: subscription.DefaultConfig()}
}

// Client owns one connection context: transport, store, auth, and the
// per-topic subscription manager.
type Client struct {
	tr    transport.Transport
	store transport.Store
	auth  transport.Auth
	clock actor.Clock
	log   zerolog.Logger
	opts  Options

	subs *subscription.Manager
}

// New constructs a Client from its collaborators.
func New(tr transport.Transport, store transport.Store, auth transport.Auth, clock actor.Clock, log zerolog.Logger, opts Options) *Client {
	if clock == nil {
		clock = actor.RealClock{}
	}
	if opts.SnapshotLimit == 0 {
		opts.SnapshotLimit = DefaultOptions().SnapshotLimit
	}
	return &Client{
		tr:    tr,
		store: store,
		auth:  auth,
		clock: clock,
		log:   log,
		opts:  opts,
		subs:  subscription.NewManager(tr, opts.Subscription, log),
	}
}

// Subscriptions exposes the subscription manager, mainly for leak checks.
func (c *Client) Subscriptions() *subscription.Manager { return c.subs }

// Close tears down every open topic.
func (c *Client) Close() {
	c.subs.Close()
}
