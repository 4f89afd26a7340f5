package particle

import (
	"math"
	"sync/atomic"
	"unsafe"
)

// The feedback pass mutates shared particle fields from many goroutines at
// once. Velocity kicks are commutative additions; the decoupling timer must
// hold the running maximum over every concurrent contributor with no lost
// updates. Both are expressed as compare-and-swap retry loops over the
// float's bit pattern.

func bits(addr *float64) *uint64 {
	return (*uint64)(unsafe.Pointer(addr))
}

// LoadFloat64 atomically reads *addr.
func LoadFloat64(addr *float64) float64 {
	return math.Float64frombits(atomic.LoadUint64(bits(addr)))
}

// AddFloat64 atomically performs *addr += delta.
func AddFloat64(addr *float64, delta float64) {
	p := bits(addr)
	for {
		old := atomic.LoadUint64(p)
		sum := math.Float64bits(math.Float64frombits(old) + delta)
		if atomic.CompareAndSwapUint64(p, old, sum) {
			return
		}
	}
}

// MaxFloat64 atomically performs *addr = max(*addr, x) and returns the
// stored value. The swap only lands if the slot is unchanged since the
// read, so the result is the true maximum regardless of interleaving.
func MaxFloat64(addr *float64, x float64) float64 {
	p := bits(addr)
	for {
		old := atomic.LoadUint64(p)
		cur := math.Float64frombits(old)
		if cur >= x {
			return cur
		}
		if atomic.CompareAndSwapUint64(p, old, math.Float64bits(x)) {
			return x
		}
	}
}
