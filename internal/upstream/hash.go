package upstream

import (
	"hash/crc32"
	"slices"
	"strconv"
	"sync"
)

const defaultVirtualNodes = 100

// consistentHash pins a key to an endpoint on a hash ring so one user's
// requests keep landing on the same replica. The ring is rebuilt whenever the
// candidate set changes, for instance when an endpoint turns unhealthy.
type consistentHash struct {
	virtualNodes int

	mutex sync.Mutex
	ring  *ring
}

type ring struct {
	members   []*Endpoint
	positions []uint32
	owners    map[uint32]*Endpoint
}

func newConsistentHash(virtualNodes int) *consistentHash {
	if virtualNodes <= 0 {
		virtualNodes = defaultVirtualNodes
	}
	return &consistentHash{virtualNodes: virtualNodes}
}

func buildRing(endpoints []*Endpoint, vnodes int) *ring {
	r := &ring{
		members:   slices.Clone(endpoints),
		positions: make([]uint32, 0, len(endpoints)*vnodes),
		owners:    make(map[uint32]*Endpoint, len(endpoints)*vnodes),
	}

	for _, e := range endpoints {
		for i := range vnodes {
			hash := crc32.ChecksumIEEE([]byte(e.URL().String() + "#" + strconv.Itoa(i)))
			r.positions = append(r.positions, hash)
			r.owners[hash] = e
		}
	}

	slices.Sort(r.positions)
	return r
}

func (r *ring) lookup(hash uint32) *Endpoint {
	idx, _ := slices.BinarySearch(r.positions, hash)
	if idx == len(r.positions) {
		idx = 0
	}
	return r.owners[r.positions[idx]]
}

func (h *consistentHash) Select(endpoints []*Endpoint, key string) *Endpoint {
	if len(endpoints) == 0 {
		return nil
	}

	h.mutex.Lock()
	if h.ring == nil || !slices.Equal(h.ring.members, endpoints) {
		h.ring = buildRing(endpoints, h.virtualNodes)
	}
	r := h.ring
	h.mutex.Unlock()

	return r.lookup(crc32.ChecksumIEEE([]byte(key)))
}
