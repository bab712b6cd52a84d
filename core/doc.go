// Package core contains the webhook delivery domain: entities, store
// contracts, the signer, the dispatcher with its attempt primitive, the
// retry scheduler and manual retry. Storage, transport and queue adapters
// depend on this package; core does not depend on them.
package core
