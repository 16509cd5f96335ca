package protocol

// pool is a bounded free list of packet instances of a single kind. The
// channel gives safe concurrent acquire/release across connection
// goroutines. Acquire falls back to a fresh allocation when the pool is
// drained; Release drops the instance when the pool is full.
type pool struct {
	free    chan Packet
	factory func() Packet
}

func newPool(capacity int, factory func() Packet) *pool {
	p := &pool{
		free:    make(chan Packet, capacity),
		factory: factory,
	}
	for i := 0; i < capacity; i++ {
		p.free <- factory()
	}
	return p
}

func (p *pool) acquire() Packet {
	select {
	case pkt := <-p.free:
		return pkt
	default:
		return p.factory()
	}
}

func (p *pool) release(pkt Packet) {
	// Reset before the instance becomes visible to other goroutines, so a
	// reused packet can never carry prior session data.
	pkt.Reset()
	select {
	case p.free <- pkt:
	default:
	}
}

// PoolManager owns one bounded, preallocated pool per registered packet
// kind. It doubles as the registered-type catalog consulted during
// deserialization: a magic number without a pool is an unsupported kind.
type PoolManager struct {
	pools map[uint32]*pool
}

// NewPoolManager preallocates capacity instances of every registered packet
// kind.
func NewPoolManager(capacity int) *PoolManager {
	factories := map[uint32]func() Packet{
		MagicHandshakeRequest:  func() Packet { return &HandshakeRequest{} },
		MagicHandshakeResponse: func() Packet { return &HandshakeResponse{} },
		MagicAccountRequest:    func() Packet { return &AccountRequest{} },
		MagicStatusResponse:    func() Packet { return &StatusResponse{} },
	}

	pools := make(map[uint32]*pool, len(factories))
	for magic, factory := range factories {
		pools[magic] = newPool(capacity, factory)
	}

	return &PoolManager{pools: pools}
}

// Acquire returns a neutral instance of the packet kind identified by magic,
// or false for an unregistered magic number.
func (m *PoolManager) Acquire(magic uint32) (Packet, bool) {
	p, ok := m.pools[magic]
	if !ok {
		return nil, false
	}
	return p.acquire(), true
}

// Release resets the packet and returns it to its pool. Packets of
// unregistered kinds are ignored.
func (m *PoolManager) Release(pkt Packet) {
	if pkt == nil {
		return
	}
	p, ok := m.pools[pkt.Magic()]
	if !ok {
		return
	}
	p.release(pkt)
}

// Supports reports whether magic identifies a registered packet kind.
func (m *PoolManager) Supports(magic uint32) bool {
	_, ok := m.pools[magic]
	return ok
}
