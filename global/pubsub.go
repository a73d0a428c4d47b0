package global

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/toolink/bridge/pubsub"
)

var (
	globalBroker     atomic.Pointer[pubsub.Broker]
	globalBrokerOnce sync.Once
)

// SetBroker replaces the broker plugins emit events through.
func SetBroker(b *pubsub.Broker) {
	globalBroker.Store(b)
}

// Broker returns the broker plugins emit events through. Unless SetBroker
// was called first, an in-memory broker is created on first use.
func Broker() *pubsub.Broker {
	globalBrokerOnce.Do(func() {
		if globalBroker.Load() != nil {
			return
		}
		b, err := pubsub.New()
		if err != nil {
			// in-memory brokers take no options that can fail
			log.Panic().Err(err).Msg("in-memory event broker unavailable")
		}
		globalBroker.CompareAndSwap(nil, b)
	})
	return globalBroker.Load()
}
