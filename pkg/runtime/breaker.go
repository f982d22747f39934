package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// breakerWindow bounds how many recent invocations the loop breaker
// remembers. Old entries fall off the front.
const breakerWindow = 20

// loopBreaker detects cognition loops: the same (tool, canonical args)
// invocation repeating past a threshold trips the breaker for that pair.
// Exempt tools never trip. Not safe for concurrent use; the runtime's
// single goroutine owns it.
type loopBreaker struct {
	threshold int
	exempt    map[string]struct{}
	recent    []string
	tripped   map[string]struct{}
}

func newLoopBreaker(threshold int, exemptTools []string) *loopBreaker {
	exempt := make(map[string]struct{}, len(exemptTools))
	for _, t := range exemptTools {
		exempt[t] = struct{}{}
	}
	return &loopBreaker{
		threshold: threshold,
		exempt:    exempt,
		tripped:   make(map[string]struct{}),
	}
}

// allow reports whether the invocation may proceed. A tripped pair returns
// false until the breaker resets.
func (b *loopBreaker) allow(toolName, argsHash string) bool {
	if _, ok := b.exempt[toolName]; ok {
		return true
	}
	_, open := b.tripped[toolName+"\x00"+argsHash]
	return !open
}

// record notes an invocation and reports whether it tripped the breaker.
func (b *loopBreaker) record(toolName, argsHash string) bool {
	if _, ok := b.exempt[toolName]; ok {
		return false
	}
	key := toolName + "\x00" + argsHash

	b.recent = append(b.recent, key)
	if len(b.recent) > breakerWindow {
		b.recent = b.recent[len(b.recent)-breakerWindow:]
	}

	count := 0
	for _, k := range b.recent {
		if k == key {
			count++
		}
	}
	if count > b.threshold {
		b.tripped[key] = struct{}{}
		return true
	}
	return false
}

// seen reports whether the invocation already appears in the window.
func (b *loopBreaker) seen(toolName, argsHash string) bool {
	key := toolName + "\x00" + argsHash
	for _, k := range b.recent {
		if k == key {
			return true
		}
	}
	return false
}

// noteProgress resets the breaker after non-repeating successful work.
func (b *loopBreaker) noteProgress() {
	if len(b.tripped) == 0 && len(b.recent) == 0 {
		return
	}
	b.recent = b.recent[:0]
	b.tripped = make(map[string]struct{})
}

// anyTripped reports whether any pair is currently open.
func (b *loopBreaker) anyTripped() bool { return len(b.tripped) > 0 }

// canonicalArgsHash digests tool arguments into a stable identity.
// encoding/json sorts map keys, so semantically equal argument objects
// hash identically.
func canonicalArgsHash(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
