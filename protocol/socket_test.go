package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRouterSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	socket, err := NewRouterSocket("inproc://test-router-socket")

	assert.NoError(t, err)
	assert.NotNil(t, socket)

	if socket != nil {
		assert.Equal(t, "inproc://test-router-socket", socket.Endpoint())
		assert.NoError(t, socket.Close())
	}
}

func TestNewDealerSocket(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	router, err := NewRouterSocket("inproc://test-dealer-socket")
	assert.NoError(t, err)

	dealer, err := NewDealerSocket("inproc://test-dealer-socket")
	assert.NoError(t, err)
	assert.NotNil(t, dealer)

	dealer.Close()
	if router != nil {
		_ = router.Close()
	}
}

func TestRouterSocketCloseIdempotent(t *testing.T) {
	socket := &RouterSocket{}

	assert.NotPanics(t, func() {
		_ = socket.Close()
		_ = socket.Close()
	})
}
