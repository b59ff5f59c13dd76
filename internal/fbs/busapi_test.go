package fbs

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/sip2"
)

func TestBusAPICheckout(t *testing.T) {
	ils := newFakeILS(t, okCheckout)
	b := bus.New()
	api := NewBusAPI(NewClient(ils.endpoint()), b)
	stop := api.Start(context.Background())
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := bus.Request(ctx, b, EventCheckout, map[string]any{
		"patronIdentifier": "1234567890",
		"itemIdentifier":   "5010941603",
		"noBlock":          true,
	})
	require.NoError(t, err)

	resp, ok := reply.(*sip2.Response)
	require.True(t, ok, "reply is %T", reply)
	assert.True(t, resp.OK())

	// interactive calls never set no-block
	assert.Regexp(t, `^11NN`, ils.lastLine())
	assert.Contains(t, ils.lastLine(), "AA1234567890|AB5010941603|")
}

func TestBusAPIOfflineReply(t *testing.T) {
	ils := newFakeILS(t, okCheckout)
	b := bus.New()
	api := NewBusAPI(NewClient(ils.endpoint(), WithProbe(offlineProbe)), b)
	stop := api.Start(context.Background())
	defer stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := bus.Request(ctx, b, EventCheckin, map[string]any{"itemIdentifier": "x"})
	var remote *bus.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, map[string]any{"error": "FBS is off-line"}, remote.Payload)
	assert.Zero(t, ils.calls.Load())
}

func TestBusAPILibraryStatus(t *testing.T) {
	ils := newFakeILS(t, func(string) (int, []byte) {
		line, _ := sip2.Compose(sip2.IDACSStatus, map[string]string{"onlineStatus": "Y", "protocolVersion": "2.00"},
			sip2.Field{Code: "AO", Value: "DK-761500"}, sip2.Field{Code: "AM", Value: "Hovedbiblioteket"})
		return http.StatusOK, sip2.WrapResponse(line)
	})
	b := bus.New()
	api := NewBusAPI(NewClient(ils.endpoint()), b)
	stop := api.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := bus.Request(ctx, b, EventLibraryStatus, nil)
	require.NoError(t, err)
	resp := reply.(*sip2.Response)
	assert.True(t, resp.OK())
	assert.Equal(t, "Hovedbiblioteket", resp.Get("AM"))

	stop()
	api.Wait()
	assert.Zero(t, b.Subscribers())
}

func TestBusAPIWithoutReplyNames(t *testing.T) {
	ils := newFakeILS(t, okCheckout)
	b := bus.New()
	api := NewBusAPI(NewClient(ils.endpoint()), b)
	stop := api.Start(context.Background())
	defer stop()

	// fire and forget still performs the call
	b.Publish(EventRenew, map[string]any{"itemIdentifier": "x"})
	api.Wait()
	assert.Regexp(t, `^29NN`, ils.lastLine())
}
