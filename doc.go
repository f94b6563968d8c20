// Package ivylab gates paid essay-analysis features behind a subscription.
//
// The Engine answers one question per request, "may this user use paid
// functionality right now?", and applies the subscription lifecycle changes
// that checkout, cancellation and billing webhooks produce. It is a library:
// the HTTP server in package server and the ivylab binary are thin layers
// over it.
//
// # Quick Start
//
//	import (
//	    "github.com/ivylab/ivylab"
//	    "github.com/ivylab/ivylab/billing/stripe"
//	    "github.com/ivylab/ivylab/store/mongo"
//	)
//
//	st, err := mongo.Open(mongoURI, "ivylab")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	engine := ivylab.New(st, stripe.New(stripe.Config{SecretKey: key}))
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	d := engine.Entitled(ctx, userID, sess.Snapshot())
//	if !d.Granted {
//	    http.Error(w, "Subscription required: "+d.Reason, http.StatusForbidden)
//	}
//
// # Entitlement
//
// Entitled merges two views of the user's subscription. The identity store
// record is authoritative for status, plan and start date; the session
// snapshot fills whatever the record lacks and is the only source of the
// billing reference. When the merged state is active with a plan and a
// reference, the billing provider is asked for the live status under a
// short timeout.
//
// If the provider cannot be reached, or the user has no billing reference
// (legacy accounts), access is granted on the strength of the cached state.
// The reason "active subscription (session-based)" marks those grants.
//
// # Lifecycle
//
// ApplyLifecycle upsert-merges a Delta into the user record. Only the
// fields set in the delta change. Records are never deleted; a canceled
// subscription remains with status "canceled".
//
// # Plugins
//
// Extensions observe the engine through the hooks in package plugin:
//
//	audit := audithook.New(audithook.SlogRecorder{Logger: logger})
//	engine := ivylab.New(st, provider, ivylab.WithPlugin(audit))
package ivylab
