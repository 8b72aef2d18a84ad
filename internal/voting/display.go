package voting

// DisplayFrame is one vote-tick snapshot pushed to display(node) control
// surface subscribers (spec.md §6 "display(node) — live per-client RSSI
// + winner view").
type DisplayFrame struct {
	Node    int
	Winner  string
	Clients []ClientStatusReport
}

// SubscribeDisplay registers a new display(node) subscriber, returning a
// channel of frames and a cancel function the caller must invoke when done
// watching (typically on websocket disconnect).
func (in *Instance) SubscribeDisplay() (<-chan DisplayFrame, func()) {
	ch := make(chan DisplayFrame, 4)
	in.mu.Lock()
	in.displaySubs = append(in.displaySubs, ch)
	in.mu.Unlock()

	cancel := func() {
		in.mu.Lock()
		for i, s := range in.displaySubs {
			if s == ch {
				in.displaySubs = append(in.displaySubs[:i], in.displaySubs[i+1:]...)
				break
			}
		}
		in.mu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// publishDisplay fans frame out to every current subscriber, dropping it
// for any subscriber whose channel is full rather than blocking the vote
// cycle on a slow websocket client.
func (in *Instance) publishDisplay(frame DisplayFrame) {
	in.mu.Lock()
	subs := append([]chan DisplayFrame(nil), in.displaySubs...)
	in.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- frame:
		default:
		}
	}
}
