package merge

import "strconv"

const testFrameLength = 64

type fakeResult[T any] struct {
	value T
	done  bool
	err   error
	polls int
}

func (r *fakeResult[T]) Poll() (T, bool, error) {
	r.polls++
	if !r.done {
		var zero T
		return zero, false, nil
	}
	return r.value, true, r.err
}

func doneResult[T any](v T) *fakeResult[T] {
	return &fakeResult[T]{value: v, done: true}
}

type queuedFrame struct {
	payload []byte
	hdr     Header
}

// frameAt builds a test frame that starts at start.
func frameAt(start Position) queuedFrame {
	return queuedFrame{
		payload: []byte(strconv.FormatInt(int64(start), 10)),
		hdr:     Header{SessionID: 7, Position: start + testFrameLength, FrameLength: testFrameLength},
	}
}

type fakeSubscription struct {
	queue       []queuedFrame
	addResults  map[string]*fakeResult[Position]
	remResults  map[string]*fakeResult[struct{}]
	addCalls    []string
	removeCalls []string
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{
		addResults: make(map[string]*fakeResult[Position]),
		remResults: make(map[string]*fakeResult[struct{}]),
	}
}

func (s *fakeSubscription) AddDestination(uri string) Result[Position] {
	s.addCalls = append(s.addCalls, uri)
	if r, ok := s.addResults[uri]; ok {
		return r
	}
	return doneResult[Position](0)
}

func (s *fakeSubscription) RemoveDestination(uri string) Result[struct{}] {
	s.removeCalls = append(s.removeCalls, uri)
	if r, ok := s.remResults[uri]; ok {
		return r
	}
	return doneResult(struct{}{})
}

func (s *fakeSubscription) Poll(handler FragmentHandler, limit int) int {
	n := 0
	for len(s.queue) > 0 && n < limit {
		f := s.queue[0]
		s.queue = s.queue[1:]
		handler(f.payload, f.hdr)
		n++
	}
	return n
}

func (s *fakeSubscription) push(starts ...Position) {
	for _, p := range starts {
		s.queue = append(s.queue, frameAt(p))
	}
}

type startCall struct {
	recordingID RecordingID
	position    Position
	length      int64
	channel     string
}

type fakeArchive struct {
	startResult *fakeResult[ReplaySessionID]
	stopResult  *fakeResult[struct{}]
	starts      []startCall
	stops       []ReplaySessionID
}

func newFakeArchive(id ReplaySessionID) *fakeArchive {
	return &fakeArchive{
		startResult: doneResult(id),
		stopResult:  doneResult(struct{}{}),
	}
}

func (a *fakeArchive) StartReplay(recordingID RecordingID, position Position, length int64, channel string) Result[ReplaySessionID] {
	a.starts = append(a.starts, startCall{recordingID, position, length, channel})
	return a.startResult
}

func (a *fakeArchive) StopReplay(id ReplaySessionID) Result[struct{}] {
	a.stops = append(a.stops, id)
	return a.stopResult
}

type fakeOracle struct {
	pos Position
	ok  bool
}

func (o *fakeOracle) FindLivePosition(SessionID) (Position, bool) {
	return o.pos, o.ok
}

type recorder struct {
	starts []Position
}

func (r *recorder) handle(_ []byte, hdr Header) {
	r.starts = append(r.starts, hdr.StartPosition())
}
