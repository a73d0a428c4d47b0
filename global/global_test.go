package global

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toolink/bridge/extension"
	"github.com/toolink/bridge/pubsub"
	"github.com/toolink/bridge/worker"
)

func TestDefaults(t *testing.T) {
	assert.NotNil(t, Manager())
	assert.NotNil(t, Broker())
	assert.NotNil(t, Pool())
	assert.Same(t, Pool(), Pool())
}

func TestSetters(t *testing.T) {
	prevManager, prevBroker, prevPool := Manager(), Broker(), Pool()
	t.Cleanup(func() {
		SetManager(prevManager)
		SetBroker(prevBroker)
		SetPool(prevPool)
	})

	m := extension.New()
	SetManager(m)
	assert.Same(t, m, Manager())

	b, err := pubsub.New()
	require.NoError(t, err)
	SetBroker(b)
	assert.Same(t, b, Broker())

	p := worker.NewPool("test")
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	SetPool(p)
	assert.Same(t, p, Pool())
}
