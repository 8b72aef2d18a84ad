package voting

// Pure write-placement arithmetic (spec.md §4.2), split out from the reader
// dispatch loop so it can be property-tested without a live socket.

// mixWriteIndex computes the ring-buffer write position for a mix-mode
// client, given the packet's sequence number (carried in the wire header's
// vtime_nsec field for mix clients) and the client's last-seen sequence.
// It reports reset=true when the packet is older than what's already been
// seen, matching the "sequence regression resets counters" rule.
func mixWriteIndex(bufferDelay int, pktSeq, clientSeq uint32) (index int, reset bool) {
	if pktSeq < clientSeq {
		return 0, true
	}
	delta := int(pktSeq - clientSeq)
	return delta*FrameSize + bufferDelay - 4*FrameSize, false
}

// votedWriteIndex computes the ring-buffer write position for a
// master-timed (voted-mode) client. All time arguments are nanoseconds.
// isCurMaster shifts the reference point 20ms earlier, matching the
// current master's own special-cased placement in the original driver.
func votedWriteIndex(bufferDelay int, masterTimeNs, packetTimeNs, puckOffsetNs int64, isCurMaster bool) int {
	const frameNs = 40_000_000
	const halfFrameNs = 20_000_000
	const nsPerSample = 125_000 // 1e9 / 8000 Hz

	btime := masterTimeNs + frameNs
	if isCurMaster {
		btime -= halfFrameNs
	}
	difftime := (packetTimeNs - btime) + int64(bufferDelay)*nsPerSample
	difftime -= puckOffsetNs
	return int(difftime / nsPerSample)
}

// inBounds reports whether index is a valid write position: at least 0
// and below buflen-2*FrameSize (spec.md §4.2).
func inBounds(index, buflen int) bool {
	return index >= 0 && index < buflen-2*FrameSize
}
