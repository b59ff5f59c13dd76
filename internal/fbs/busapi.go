package fbs

import (
	"context"
	"sync"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/sip2"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// Interactive operations requested over the bus. Replies go to the
// busEvent / errorEvent named in the payload. Nothing is retried.
const (
	EventLogin         = "fbs.login"
	EventPatron        = "fbs.patron"
	EventCheckout      = "fbs.checkout"
	EventCheckin       = "fbs.checkin"
	EventRenew         = "fbs.renew"
	EventRenewAll      = "fbs.renew.all"
	EventEndSession    = "fbs.end.session"
	EventLibraryStatus = "fbs.library.status"
)

type busRequest struct {
	bus.Envelope
	types.Payload
}

type busCall func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error)

var busCalls = map[string]busCall{
	EventLogin: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.Login(ctx, r.PatronID, r.PatronPassword)
	},
	EventPatron: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.PatronInformation(ctx, r.PatronID, r.PatronPassword)
	},
	EventCheckout: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.Checkout(ctx, r.Payload)
	},
	EventCheckin: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.Checkin(ctx, r.Payload)
	},
	EventRenew: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.Renew(ctx, r.Payload)
	},
	EventRenewAll: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.RenewAll(ctx, r.PatronID, r.PatronPassword)
	},
	EventEndSession: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.EndSession(ctx, r.PatronID, r.PatronPassword)
	},
	EventLibraryStatus: func(ctx context.Context, c *Client, r busRequest) (*sip2.Response, error) {
		return c.LibraryStatus(ctx)
	},
}

// BusAPI answers fbs.* requests with direct client calls.
type BusAPI struct {
	client *Client
	bus    bus.Bus
	wg     sync.WaitGroup
}

// NewBusAPI creates the bus adapter for c.
func NewBusAPI(c *Client, b bus.Bus) *BusAPI {
	return &BusAPI{client: c, bus: b}
}

// Start subscribes to every fbs.* request event. Calls run on their own
// goroutine under ctx. The returned function unsubscribes.
func (a *BusAPI) Start(ctx context.Context) (stop func()) {
	offs := make([]func(), 0, len(busCalls))
	for event, call := range busCalls {
		call := call
		offs = append(offs, a.bus.On(event, func(event string, payload any) {
			a.handle(ctx, event, payload, call)
		}))
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Wait blocks until running calls have replied.
func (a *BusAPI) Wait() {
	a.wg.Wait()
}

func (a *BusAPI) handle(ctx context.Context, event string, payload any, call busCall) {
	var req busRequest
	if err := bus.Decode(payload, &req); err != nil {
		log.Error("Invalid FBS bus request", "event", event, "error", err)
		bus.Reply(a.bus, req.Envelope, nil, err)
		return
	}
	// interactive transactions are never forced through
	req.NoBlock = false

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		resp, err := call(ctx, a.client, req)
		bus.Reply(a.bus, req.Envelope, resp, err)
	}()
}
