package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/pior/couchbase/memd"
)

var storeOpCodes = map[StoreOp]memd.OpCode{
	StoreSet:     memd.OpSet,
	StoreAdd:     memd.OpAdd,
	StoreReplace: memd.OpReplace,
	StoreAppend:  memd.OpAppend,
	StorePrepend: memd.OpPrepend,
}

func checkKey(key string) error {
	if err := memd.ValidateKey(key); err != nil {
		return CodeInvalidArgs
	}
	return nil
}

// execKey routes key, sends the request built for its vbucket and returns
// the response with its code. The packet is nil unless a response arrived.
func (i *Instance) execKey(ctx context.Context, key string, build func(vb uint16) *memd.Packet) (*memd.Packet, Code) {
	cfg, nodes, code := i.topology()
	if code != CodeSuccess {
		return nil, code
	}

	idx, vb, err := cfg.Route(key)
	if err != nil || idx >= len(nodes) {
		return nil, CodeNetworkError
	}
	n := nodes[idx]

	resp, err := n.exchange(ctx, build(vb), nil)
	if err != nil {
		code := codeFromError(err)
		if code != CodeTimeout {
			i.notify(code, err.Error())
		}
		return nil, code
	}
	return resp, CodeFromStatus(resp.Status)
}

// Get schedules a document fetch.
func (i *Instance) Get(cookie any, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return i.schedule(&operation{
		name: "get",
		run: func(ctx context.Context, emit emitFunc) {
			resp, code := i.execKey(ctx, key, func(vb uint16) *memd.Packet {
				return memd.NewGet(key, vb)
			})

			var (
				value []byte
				flags uint32
				cas   uint64
			)
			if resp != nil && code == CodeSuccess {
				value, flags, cas = resp.Value, resp.Flags(), resp.Cas
			}
			emit(func(cb Callbacks) { cb.Get(cookie, code, key, value, flags, cas) })
		},
	})
}

// Store schedules a write. flags and expiry are ignored by append and
// prepend; a non-zero cas makes the write conditional.
func (i *Instance) Store(cookie any, op StoreOp, key string, value []byte, flags, expiry uint32, cas uint64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	opcode, ok := storeOpCodes[op]
	if !ok {
		return CodeInvalidArgs
	}

	return i.schedule(&operation{
		name: op.String(),
		run: func(ctx context.Context, emit emitFunc) {
			resp, code := i.execKey(ctx, key, func(vb uint16) *memd.Packet {
				return memd.NewStore(opcode, key, value, flags, expiry, cas, vb)
			})

			var newCas uint64
			if resp != nil {
				newCas = resp.Cas
			}
			emit(func(cb Callbacks) { cb.Store(cookie, code, key, newCas) })
		},
	})
}

// Remove schedules a delete.
func (i *Instance) Remove(cookie any, key string, cas uint64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return i.schedule(&operation{
		name: "remove",
		run: func(ctx context.Context, emit emitFunc) {
			_, code := i.execKey(ctx, key, func(vb uint16) *memd.Packet {
				return memd.NewDelete(key, cas, vb)
			})
			emit(func(cb Callbacks) { cb.Remove(cookie, code, key) })
		},
	})
}

// Arithmetic schedules a counter update. A negative delta decrements.
// When create is set a missing key is seeded with initial.
func (i *Instance) Arithmetic(cookie any, key string, delta int64, initial uint64, create bool, expiry uint32) error {
	if err := checkKey(key); err != nil {
		return err
	}

	opcode, amount := memd.OpIncrement, uint64(delta)
	if delta < 0 {
		opcode, amount = memd.OpDecrement, uint64(-delta)
	}
	if !create {
		expiry = memd.NoCreateExpiry
	}

	return i.schedule(&operation{
		name: "arithmetic",
		run: func(ctx context.Context, emit emitFunc) {
			resp, code := i.execKey(ctx, key, func(vb uint16) *memd.Packet {
				return memd.NewCounter(opcode, key, amount, initial, expiry, vb)
			})

			var value, cas uint64
			if resp != nil && code == CodeSuccess {
				v, err := resp.CounterValue()
				if err != nil {
					code = CodeProtocolError
				}
				value, cas = v, resp.Cas
			}
			emit(func(cb Callbacks) { cb.Arithmetic(cookie, code, key, value, cas) })
		},
	})
}

type nodeResult struct {
	addr  string
	code  Code
	stats [][2]string
}

// broadcast sends the request built by build to every data node in
// parallel and collects one result per node in node order.
func (i *Instance) broadcast(ctx context.Context, build func() *memd.Packet, collect bool) ([]nodeResult, Code) {
	_, nodes, code := i.topology()
	if code != CodeSuccess {
		return nil, code
	}

	results := make([]nodeResult, len(nodes))
	var wg sync.WaitGroup
	for idx, n := range nodes {
		wg.Add(1)
		go func(idx int, n *node) {
			defer wg.Done()

			var (
				mu    sync.Mutex
				stats [][2]string
				done  bool
			)
			var each func(*memd.Packet)
			if collect {
				each = func(p *memd.Packet) {
					mu.Lock()
					defer mu.Unlock()
					if !done {
						stats = append(stats, [2]string{string(p.Key), string(p.Value)})
					}
				}
			}

			resp, err := n.exchange(ctx, build(), each)

			mu.Lock()
			done = true
			res := nodeResult{addr: n.addr, stats: stats}
			mu.Unlock()

			switch {
			case err != nil:
				res.code = codeFromError(err)
				if res.code != CodeTimeout {
					i.notify(res.code, fmt.Sprintf("data node %s: %v", n.addr, err))
				}
			default:
				res.code = CodeFromStatus(resp.Status)
			}
			results[idx] = res
		}(idx, n)
	}
	wg.Wait()
	return results, CodeSuccess
}

// Stats schedules a statistics request to every data node. An empty name
// asks for the default group.
func (i *Instance) Stats(cookie any, name string) error {
	return i.schedule(&operation{
		name: "stats",
		run: func(ctx context.Context, emit emitFunc) {
			results, code := i.broadcast(ctx, func() *memd.Packet { return memd.NewStat(name) }, true)
			for _, res := range results {
				if res.code != CodeSuccess {
					emit(func(cb Callbacks) { cb.Stat(cookie, res.addr, res.code, "", "") })
					continue
				}
				for _, kv := range res.stats {
					emit(func(cb Callbacks) { cb.Stat(cookie, res.addr, CodeSuccess, kv[0], kv[1]) })
				}
			}
			emit(func(cb Callbacks) { cb.Stat(cookie, "", code, "", "") })
		},
	})
}

// Flush schedules the removal of every document on every data node.
func (i *Instance) Flush(cookie any) error {
	return i.schedule(&operation{
		name: "flush",
		run: func(ctx context.Context, emit emitFunc) {
			results, code := i.broadcast(ctx, memd.NewFlush, false)
			for _, res := range results {
				emit(func(cb Callbacks) { cb.Flush(cookie, res.addr, res.code) })
			}
			emit(func(cb Callbacks) { cb.Flush(cookie, "", code) })
		},
	})
}
