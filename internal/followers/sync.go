package followers

// SyncFollower is driven inline by the bowl: registration replays every
// retained document at or after nextIndex before RegisterSyncFollower
// returns, and every subsequent accepted upsert calls Deliver before
// the upsert call itself returns (spec §4.2).
type SyncFollower struct {
	name   string
	cb     Callback
	onErr  ErrorHandler
	box    stateBox
}

// NewSyncFollower constructs a sync follower starting at nextIndex. The
// bowl is responsible for the catch-up replay at registration time; this
// constructor only sets up bookkeeping.
func NewSyncFollower(name string, nextIndex int, cb Callback, onErr ErrorHandler) *SyncFollower {
	if onErr == nil {
		onErr = func(error) {}
	}
	f := &SyncFollower{name: name, cb: cb, onErr: onErr}
	f.box.state = Sleeping
	f.box.nextIndex = nextIndex
	return f
}

func (f *SyncFollower) Name() string { return f.name }

// NextIndex returns the first as-yet-undelivered LocalIndex.
func (f *SyncFollower) NextIndex() int {
	_, next := f.box.snapshot()
	return next
}

func (f *SyncFollower) State() State {
	s, _ := f.box.snapshot()
	return s
}

// Deliver invokes the callback for evt and advances NextIndex past
// evt.Doc.LocalIndex. Callback errors are reported to onErr and do not
// stop delivery of subsequent events — spec §7: "not swallowed
// silently; they bubble to the follower owner's registered error
// handler."
func (f *SyncFollower) Deliver(evt WriteEvent) {
	f.box.mu.Lock()
	if f.box.state == Quitting {
		f.box.mu.Unlock()
		return
	}
	f.box.state = Running
	f.box.mu.Unlock()

	if err := f.cb(evt); err != nil {
		f.onErr(err)
	}

	f.box.mu.Lock()
	if evt.Doc.LocalIndex >= f.box.nextIndex {
		f.box.nextIndex = evt.Doc.LocalIndex + 1
	}
	if f.box.state != Quitting {
		f.box.state = Sleeping
	}
	f.box.mu.Unlock()
}

// Quit marks the follower quitting. A delivery already in progress will
// still complete its current callback (spec §4.2: "a follower that
// quits mid-batch must observe the flag on the next iteration"), but no
// further deliveries will invoke the callback.
func (f *SyncFollower) Quit() {
	f.box.mu.Lock()
	f.box.state = Quitting
	f.box.mu.Unlock()
}
