package sorter

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/port"
	"github.com/goclaw/simnet/pkg/wiring"
)

// Coprocessors is the number of coprocessors the interconnect routes to.
const Coprocessors = 3

type generatorPorts struct {
	Out *port.Out[Packet] `port:"out"`
	In  *port.In[Packet]  `port:"in"`
}

// generator sends one packet per configured address and waits for each
// response before sending the next.
func generator(cfg Config, rep *Report, log logger.Logger) wiring.Process {
	return wiring.Bound(func(ctx context.Context, p *generatorPorts) error {
		rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)>>1))
		for i, addr := range cfg.Addresses {
			payload := make([]uint32, cfg.PayloadSize)
			for j := range payload {
				payload[j] = rng.Uint32N(1000)
			}
			pkt := Packet{ID: uint32(i), Address: addr, Payload: payload}
			rep.addSent(pkt)
			if err := p.Out.Write(pkt.Clone()); err != nil {
				return fmt.Errorf("send %s: %w", pkt, err)
			}

			resp, err := p.In.BRead(ctx)
			if err != nil {
				return err
			}
			rep.addReceived(resp)
			if resp.Equal(pkt) {
				log.DebugContext(ctx, "response matches", "packet", pkt.ID, "address", addr)
			} else {
				log.WarnContext(ctx, "response differs from request", "packet", pkt.ID, "got", resp.String())
			}
		}
		return nil
	})
}

type lane struct {
	data *port.Out[Packet]
	req  *port.Out[bool]
	ack  *port.In[bool]
	resp *port.In[Packet]
}

// transfer runs one four-phase handshake: raise req, wait for ack, take the
// response, drop req, wait for ack to drop.
func (l *lane) transfer(ctx context.Context, pkt Packet) (Packet, error) {
	if err := l.data.Write(pkt); err != nil {
		return Packet{}, err
	}
	if err := l.req.Write(true); err != nil {
		return Packet{}, err
	}
	if _, err := port.WaitFor(ctx, l.ack, port.Is(true)); err != nil {
		return Packet{}, err
	}
	resp, err := l.resp.NBRead()
	if err != nil {
		return Packet{}, err
	}
	if err := l.req.Write(false); err != nil {
		return Packet{}, err
	}
	if _, err := port.WaitFor(ctx, l.ack, port.Is(false)); err != nil {
		return Packet{}, err
	}
	return resp, nil
}

// interconnect routes every packet from the generator to the coprocessor
// selected by its address and forwards the response back.
func interconnect(log logger.Logger) wiring.Process {
	return func(ctx context.Context, ps *wiring.PortSet) error {
		in := wiring.MustIn[Packet](ps, "in")
		out := wiring.MustOut[Packet](ps, "out")

		lanes := make([]*lane, Coprocessors)
		for i := range lanes {
			prefix := fmt.Sprintf("cop%d_", i)
			lanes[i] = &lane{
				data: wiring.MustOut[Packet](ps, prefix+"data"),
				req:  wiring.MustOut[bool](ps, prefix+"req"),
				ack:  wiring.MustIn[bool](ps, prefix+"ack"),
				resp: wiring.MustIn[Packet](ps, prefix+"resp"),
			}
			// Request lines start low. A ring of depth 1 may drop this value
			// before the coprocessor reads it, so the coprocessor takes its
			// first request by level.
			if err := lanes[i].req.Write(false); err != nil {
				return err
			}
		}

		for {
			pkt, err := in.BRead(ctx)
			if err != nil {
				return err
			}
			if int(pkt.Address) >= len(lanes) {
				return &AddressError{PacketID: pkt.ID, Address: pkt.Address}
			}
			log.DebugContext(ctx, "routing packet", "packet", pkt.ID, "address", pkt.Address)
			resp, err := lanes[pkt.Address].transfer(ctx, pkt)
			if err != nil {
				return fmt.Errorf("coprocessor %d: %w", pkt.Address, err)
			}
			if err := out.Write(resp); err != nil {
				return err
			}
		}
	}
}

type coprocessorPorts struct {
	Data *port.In[Packet]  `port:"data"`
	Req  *port.In[bool]    `port:"req"`
	Ack  *port.Out[bool]   `port:"ack"`
	Resp *port.Out[Packet] `port:"resp"`
}

// coprocessor answers each request with the packet it was given. The first
// request is taken by level, every later one on a rising edge.
func coprocessor(ctx context.Context, p *coprocessorPorts) error {
	if _, err := port.WaitFor(ctx, p.Req, port.Is(true)); err != nil {
		return err
	}
	for {
		pkt, err := p.Data.NBRead()
		if err != nil {
			return err
		}
		if err := p.Resp.Write(pkt.Clone()); err != nil {
			return err
		}
		if err := p.Ack.Write(true); err != nil {
			return err
		}
		if err := port.NegEdge(ctx, p.Req); err != nil {
			return err
		}
		if err := p.Ack.Write(false); err != nil {
			return err
		}
		if err := port.PosEdge(ctx, p.Req); err != nil {
			return err
		}
	}
}
